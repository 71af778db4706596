// Package coordinator keeps one paired device polled and serializes all
// traffic on its single BLE connection.
//
// A Coordinator polls on a fixed interval (default 60s, each cycle bounded
// by 30s), publishing a consistent boneco.Snapshot built from one
// connect → name → info → state sequence. A failed cycle returns a
// *FetchFailedError and leaves the previous snapshot published.
//
// Writes are read-modify-write against the latest known state:
//
//	err := c.UpdateState(func(s *boneco.DeviceState) {
//	    s.FanLevel = 5
//	})
//
// The result becomes the pending state, visible to the next UpdateState
// at once, and a debounce timer (default 300ms) is re-armed. When it fires
// the pending state is written with a single SetState. A successful write
// schedules a refresh; a failed one is logged, reported to the Listener and
// dropped without retry.
//
// Every device operation runs under one lock through a reconnect-or-reuse
// accessor. The connection is released only when no other operation is
// waiting, so a write queued behind a poll reuses the open link.
package coordinator
