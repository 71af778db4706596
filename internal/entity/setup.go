package entity

import (
	"fmt"
	"slices"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Setup selects the entities a device exposes: records on a platform of the
// device class whose existence predicate holds for the input.
func Setup(in Input) []Entity {
	platforms := PlatformsFor(in.Class)
	var out []Entity
	for _, e := range table {
		if slices.Contains(platforms, e.Platform()) && e.Exists(in) {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the entity with the given key.
func Find(entities []Entity, key string) (Entity, error) {
	for _, e := range entities {
		if e.Key() == key {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, key)
}

// Values reads every entity into a key → value map.
func Values(entities []Entity, in Input) map[string]any {
	out := make(map[string]any, len(entities))
	for _, e := range entities {
		if _, ok := e.(Pressable); ok {
			continue
		}
		out[e.Key()] = e.Read(in)
	}
	return out
}

// WriteIntent validates value against current and returns the transform to
// submit to the coordinator. The transform re-applies the write to whatever
// state is current when it runs and leaves it untouched if the value no
// longer fits.
func WriteIntent(e Entity, in Input, current boneco.DeviceState, value any) (func(*boneco.DeviceState), error) {
	w, ok := e.(Writable)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotWritable, e.Key())
	}
	probe := current.Clone()
	if err := w.Write(in, &probe, value); err != nil {
		return nil, err
	}
	return func(state *boneco.DeviceState) {
		_ = w.Write(in, state, value)
	}, nil
}

// PressIntent returns the transform for a button press at now.
func PressIntent(e Entity, now time.Time) (func(*boneco.DeviceState), error) {
	p, ok := e.(Pressable)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotPressable, e.Key())
	}
	return func(state *boneco.DeviceState) {
		p.Press(state, now)
	}, nil
}
