package entity

import (
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Platform is the kind of entity presented to consumers.
type Platform string

// Platforms.
const (
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformButton       Platform = "button"
	PlatformFan          Platform = "fan"
	PlatformHumidifier   Platform = "humidifier"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
	PlatformSensor       Platform = "sensor"
	PlatformSwitch       Platform = "switch"
)

var fanPlatforms = []Platform{
	PlatformBinarySensor,
	PlatformFan,
	PlatformSensor,
}

var humidifierPlatforms = []Platform{
	PlatformBinarySensor,
	PlatformButton,
	PlatformFan,
	PlatformHumidifier,
	PlatformNumber,
	PlatformSensor,
	PlatformSwitch,
}

var climatePlatforms = []Platform{
	PlatformBinarySensor,
	PlatformButton,
	PlatformFan,
	PlatformHumidifier,
	PlatformNumber,
	PlatformSelect,
	PlatformSensor,
	PlatformSwitch,
}

// PlatformsFor returns the platforms set up for a device class. Unknown
// classes get none.
func PlatformsFor(class boneco.DeviceClass) []Platform {
	var src []Platform
	switch class {
	case boneco.ClassFan:
		src = fanPlatforms
	case boneco.ClassHumidifier:
		src = humidifierPlatforms
	case boneco.ClassSimpleClimate, boneco.ClassTopClimate:
		src = climatePlatforms
	}
	return append([]Platform(nil), src...)
}

// Input is everything an entity reads from: the device class from the
// entry, the latest snapshot and the last advertised signal strength.
type Input struct {
	Class    boneco.DeviceClass
	Snapshot boneco.Snapshot
	RSSI     *int
}

// Entity is the capability every record implements.
type Entity interface {
	Key() string
	Platform() Platform
	Exists(in Input) bool
	Read(in Input) any
}

// Writable entities validate a value and apply it to a state copy.
type Writable interface {
	Entity
	Write(in Input, state *boneco.DeviceState, value any) error
}

// Pressable entities apply a fixed action to a state copy.
type Pressable interface {
	Entity
	Press(state *boneco.DeviceState, now time.Time)
}

// Bounded entities have a numeric range that may depend on the state.
type Bounded interface {
	Bounds(state boneco.DeviceState) (low, high int)
}

// Optioned entities accept one of a fixed set of values.
type Optioned interface {
	Options(in Input) []string
}

// Unit is implemented by entities with a unit of measurement.
type Unit interface {
	Unit() string
}

// Description is the published shape of an entity.
type Description struct {
	Key       string   `json:"key"`
	Platform  Platform `json:"platform"`
	Unit      string   `json:"unit,omitempty"`
	Writable  bool     `json:"writable"`
	Pressable bool     `json:"pressable"`
	Options   []string `json:"options,omitempty"`
	Min       *int     `json:"min,omitempty"`
	Max       *int     `json:"max,omitempty"`
}

// Describe builds the description of an entity for the given input.
func Describe(e Entity, in Input) Description {
	d := Description{Key: e.Key(), Platform: e.Platform()}
	if u, ok := e.(Unit); ok {
		d.Unit = u.Unit()
	}
	_, d.Writable = e.(Writable)
	_, d.Pressable = e.(Pressable)
	if o, ok := e.(Optioned); ok {
		d.Options = o.Options(in)
	}
	if b, ok := e.(Bounded); ok {
		low, high := b.Bounds(in.Snapshot.State)
		d.Min, d.Max = &low, &high
	}
	return d
}
