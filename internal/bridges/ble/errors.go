package ble

import "errors"

var (
	// ErrDeviceNotFound is returned for an address with no running coordinator.
	ErrDeviceNotFound = errors.New("ble: device not managed by bridge")

	// ErrDeviceExists is returned when adding an entry that is already running.
	ErrDeviceExists = errors.New("ble: device already managed by bridge")

	// ErrInvalidCommand is returned for a command with an unknown action.
	ErrInvalidCommand = errors.New("ble: invalid command")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("ble: bridge stopped")
)
