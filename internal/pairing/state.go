package pairing

import "time"

// State is a step of a pairing flow.
type State string

// Flow states. PairingTimeout and ConfirmTimeout are retryable;
// EntryCreated and Aborted are final.
const (
	StateIdle                     State = "idle"
	StateDiscovered               State = "discovered"
	StateConfirmPending           State = "confirm_pending"
	StateWaitingForPairingMode    State = "waiting_for_pairing_mode"
	StatePairingTimeout           State = "pairing_timeout"
	StateWaitingForConfirmPairing State = "waiting_for_confirm_pairing"
	StateConfirmTimeout           State = "confirm_timeout"
	StateConfirmed                State = "confirmed"
	StateEntryCreated             State = "entry_created"
	StateAborted                  State = "aborted"
)

// Retryable reports whether Retry may restart the flow from this state.
func (s State) Retryable() bool {
	return s == StatePairingTimeout || s == StateConfirmTimeout
}

// Final reports whether the flow has ended.
func (s State) Final() bool {
	return s == StateEntryCreated || s == StateAborted
}

// AbortReason explains an aborted flow.
type AbortReason string

// Abort reasons.
const (
	ReasonAlreadyConfigured AbortReason = "already_configured"
	ReasonUnsupportedModel  AbortReason = "unsupported_model"
	ReasonInvalidAuth       AbortReason = "invalid_auth"
	ReasonCancelled         AbortReason = "cancelled"
	ReasonStoreFailed       AbortReason = "store_failed"
)

// Status is a point-in-time view of a flow.
type Status struct {
	FlowID      string      `json:"flow_id"`
	Address     string      `json:"address"`
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	State       State       `json:"state"`
	Reason      AbortReason `json:"reason,omitempty"`
	Error       string      `json:"error,omitempty"`
	DeviceClass string      `json:"device_class,omitempty"`
	EntryID     string      `json:"entry_id,omitempty"`
	Attempt     int         `json:"attempt"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Discovery is a pairable device seen by the scanner.
type Discovery struct {
	Address       string `json:"address"`
	Name          string `json:"name"`
	Label         string `json:"label"`
	RSSI          int    `json:"rssi"`
	PairingActive bool   `json:"pairing_active"`
}
