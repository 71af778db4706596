// Package pairing runs the flow that turns a scanned device into a stored
// entry with a derived key.
//
// A flow moves through these states:
//
//	idle → discovered → confirm_pending
//	     → waiting_for_pairing_mode ──(30s)──▶ pairing_timeout
//	     → waiting_for_confirm_pairing ──(30s)──▶ confirm_timeout
//	     → confirmed → entry_created
//
// Only advertisements whose manufacturer data carries the family vendor tag
// are discoverable. When the confirmed advertisement does not report pairing
// mode, the flow watches new advertisements for the address until one does.
// It then connects, calls Authorize and waits for a confirmed event on the
// client's AuthStates channel.
//
// Both timeout states are retryable: Manager.Retry restarts the flow at
// waiting_for_pairing_mode. A confirmed handshake that yields no key, a
// model missing from the model table, or an address that is already
// configured ends the flow in aborted with a reason.
//
// Progress is observable per flow with Flow.Watch or for every flow with
// Manager.Watch. The API and MQTT layers forward both.
package pairing
