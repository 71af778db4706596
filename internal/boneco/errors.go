package boneco

import "errors"

// Error taxonomy shared by the protocol client, pairing flows and the
// coordinator. Transport implementations wrap their own failures with these
// so callers can classify with errors.Is.
var (
	// ErrConnection indicates the device is unreachable or the link dropped.
	// Pollers retry on the next cycle.
	ErrConnection = errors.New("boneco: connection failed")

	// ErrProtocol indicates a malformed response, a rejected command or an
	// operation attempted without an open connection.
	ErrProtocol = errors.New("boneco: protocol error")

	// ErrAuthorization indicates an empty or rejected credential.
	ErrAuthorization = errors.New("boneco: authorization failed")

	// ErrPairingTimeout indicates the device never advertised pairing mode
	// within the wait bound.
	ErrPairingTimeout = errors.New("boneco: timed out waiting for pairing mode")

	// ErrConfirmTimeout indicates the device never confirmed the handshake
	// within the wait bound.
	ErrConfirmTimeout = errors.New("boneco: timed out waiting for pairing confirmation")

	// ErrInvalidAddress indicates a string that is not a 6-octet MAC address.
	ErrInvalidAddress = errors.New("boneco: invalid device address")

	// ErrUnknownDeviceClass indicates a device class name outside the family.
	ErrUnknownDeviceClass = errors.New("boneco: unknown device class")

	// ErrUnsupportedModel indicates a model name with no device class mapping.
	ErrUnsupportedModel = errors.New("boneco: unsupported model")
)
