package device

import (
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Entry is a paired device: its address, the key derived during pairing and
// the class that selects its entities.
type Entry struct {
	// ID is the entry UUID.
	ID string `json:"id"`

	// UniqueID is the lower-case formatted MAC. One entry per device.
	UniqueID string `json:"unique_id"`

	// Address is the BLE address in upper-case colon form.
	Address string `json:"address"`

	// Key is the secret from the pairing handshake. Never serialised.
	Key string `json:"-"`

	DeviceClass boneco.DeviceClass `json:"device_class"`

	// Title is the advertised model name.
	Title string `json:"title"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential returns the stored credential.
func (e Entry) Credential() boneco.Credential {
	return boneco.Credential{Address: e.Address, Name: e.Title, Key: e.Key}
}

// Identity returns the immutable identity.
func (e Entry) Identity() boneco.Identity {
	return boneco.Identity{Address: e.Address, Class: e.DeviceClass, Name: e.Title}
}
