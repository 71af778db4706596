package pairing

import "errors"

var (
	// ErrFlowNotFound indicates an unknown flow id.
	ErrFlowNotFound = errors.New("pairing: flow not found")

	// ErrNotDiscovered indicates no current family advertisement for the
	// address.
	ErrNotDiscovered = errors.New("pairing: device not discovered")

	// ErrAlreadyConfigured indicates the device already has an entry.
	ErrAlreadyConfigured = errors.New("pairing: device already configured")

	// ErrFlowInProgress indicates another active flow for the same address.
	ErrFlowInProgress = errors.New("pairing: flow already in progress")

	// ErrNotRetryable indicates Retry outside a timeout state.
	ErrNotRetryable = errors.New("pairing: flow is not in a retryable state")

	// ErrFlowFinished indicates an operation on a finished flow.
	ErrFlowFinished = errors.New("pairing: flow already finished")

	// ErrNoDevicesFound indicates discovery found nothing to pair.
	ErrNoDevicesFound = errors.New("pairing: no devices found")
)
