package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrEntryNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntryNotFound is returned when an entry does not exist.
	ErrEntryNotFound = errors.New("device: entry not found")

	// ErrEntryExists is returned when an entry with the same ID or unique ID
	// already exists.
	ErrEntryExists = errors.New("device: entry already exists")

	// ErrInvalidEntry is returned when entry validation fails.
	ErrInvalidEntry = errors.New("device: invalid entry")
)
