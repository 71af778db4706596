package device

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

const maxTitleLength = 100

// GenerateID returns a new entry ID.
func GenerateID() string {
	return uuid.NewString()
}

// ValidateEntry checks an entry before it is persisted. It fills UniqueID
// from Address when empty and normalises Address.
func ValidateEntry(e *Entry) error {
	if e == nil {
		return ErrInvalidEntry
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidEntry, e.ID)
	}

	addr, err := boneco.NormalizeAddress(e.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	e.Address = addr

	uid, _ := boneco.FormatMAC(addr)
	if e.UniqueID == "" {
		e.UniqueID = uid
	}
	if e.UniqueID != uid {
		return fmt.Errorf("%w: unique id %q does not match address %s", ErrInvalidEntry, e.UniqueID, addr)
	}

	if err := e.Credential().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if _, err := boneco.ParseDeviceClass(string(e.DeviceClass)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	if e.Title == "" || len(e.Title) > maxTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidEntry, maxTitleLength)
	}
	return nil
}
