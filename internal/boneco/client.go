package boneco

import "context"

// Client owns a single logical connection to one device.
//
// Implementations are not required to be safe for concurrent use: the
// coordinator and the pairing flow serialize access themselves.
type Client interface {
	// Connect opens the transport session. It is a no-op when already
	// connected and fails with ErrConnection on transport failure.
	Connect(ctx context.Context) error

	// Disconnect releases the session. Safe when not connected.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether a session is open.
	IsConnected() bool

	// Authorize starts the pairing handshake on the open connection.
	// Completion is reported on AuthStates, not by the return value.
	Authorize(ctx context.Context) error

	// AuthStates delivers handshake transitions. The channel is never closed
	// while the client is in use.
	AuthStates() <-chan AuthEvent

	// Credential returns the current credential. The key stays empty until
	// the handshake is confirmed.
	Credential() Credential

	// DeviceName, DeviceInfo and State read from the open connection and
	// fail with ErrProtocol when disconnected or on malformed data.
	DeviceName(ctx context.Context) (string, error)
	DeviceInfo(ctx context.Context) (DeviceInfo, error)
	State(ctx context.Context) (DeviceState, error)

	// SetState writes the full state. The device accepts all of it or none.
	SetState(ctx context.Context, state DeviceState) error
}

// ClientFactory builds a client for a credential. Pairing passes a credential
// with an empty key.
type ClientFactory interface {
	NewClient(cred Credential) Client
}
