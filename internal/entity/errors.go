package entity

import "errors"

var (
	// ErrUnknownEntity indicates a key that the device does not expose.
	ErrUnknownEntity = errors.New("entity: unknown entity")

	// ErrNotWritable indicates a write to a read-only entity.
	ErrNotWritable = errors.New("entity: entity is not writable")

	// ErrNotPressable indicates a press on an entity that is not a button.
	ErrNotPressable = errors.New("entity: entity is not a button")

	// ErrInvalidValue indicates a value of the wrong type.
	ErrInvalidValue = errors.New("entity: invalid value")

	// ErrOutOfRange indicates a numeric value outside the entity bounds.
	ErrOutOfRange = errors.New("entity: value out of range")

	// ErrInvalidOption indicates a value that is not one of the options.
	ErrInvalidOption = errors.New("entity: invalid option")
)
