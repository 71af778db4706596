package boneco

import "fmt"

// AuthState is a step of the authorization handshake as reported by the
// device.
type AuthState string

// Handshake states. Only AuthStateConfirmed completes pairing.
const (
	AuthStateIdle          AuthState = "idle"
	AuthStateKeyExchange   AuthState = "key_exchange"
	AuthStateWaitingButton AuthState = "waiting_button"
	AuthStateConfirmed     AuthState = "confirmed"
	AuthStateRejected      AuthState = "rejected"
)

// AuthEvent is one transition of the handshake, published by a Client on its
// AuthStates channel.
type AuthEvent struct {
	Address string    `json:"address"`
	State   AuthState `json:"state"`
	Level   int       `json:"level"`
}

// Credential is the persisted result of pairing. Name is the advertised
// model name and becomes the entry title.
type Credential struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Key     string `json:"key"`
}

// Validate requires a non-empty key. A confirmed handshake that produced no
// key is an authorization failure.
func (c Credential) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: no key for device %s", ErrAuthorization, c.Address)
	}
	return nil
}
