package boneco

import (
	"fmt"
	"slices"
	"time"
)

// Manufacturer is reported in device metadata.
const Manufacturer = "Boneco"

// DeviceClass groups models by capability. It selects which entities a
// device exposes.
type DeviceClass string

// Device classes of the appliance family.
const (
	ClassFan           DeviceClass = "FAN"
	ClassHumidifier    DeviceClass = "HUMIDIFIER"
	ClassSimpleClimate DeviceClass = "SIMPLE_CLIMATE"
	ClassTopClimate    DeviceClass = "TOP_CLIMATE"
)

// AllDeviceClasses lists every device class in declaration order.
func AllDeviceClasses() []DeviceClass {
	return []DeviceClass{ClassFan, ClassHumidifier, ClassSimpleClimate, ClassTopClimate}
}

// ParseDeviceClass validates a stored or configured class name.
func ParseDeviceClass(s string) (DeviceClass, error) {
	c := DeviceClass(s)
	if !slices.Contains(AllDeviceClasses(), c) {
		return "", fmt.Errorf("%w: %q", ErrUnknownDeviceClass, s)
	}
	return c, nil
}

// HasFilter reports whether devices of this class carry a replaceable filter.
func (c DeviceClass) HasFilter() bool {
	return c == ClassSimpleClimate || c == ClassTopClimate
}

// OperatingMode is the device's top-level function.
type OperatingMode int

// Operating modes. Values match the gateway wire encoding.
const (
	OperatingModeFan        OperatingMode = 0
	OperatingModeHumidifier OperatingMode = 1
	OperatingModePurifier   OperatingMode = 2
	OperatingModeHybrid     OperatingMode = 3
)

// ModeStatus is the program running inside an operating mode.
type ModeStatus int

// Mode statuses.
const (
	ModeStatusCustom ModeStatus = 0
	ModeStatusAuto   ModeStatus = 1
	ModeStatusBaby   ModeStatus = 2
	ModeStatusSleep  ModeStatus = 3
)

// ModeConfig lists which mode statuses an operating mode supports.
type ModeConfig map[ModeStatus]bool

// Supported returns the supported statuses in ascending order.
func (m ModeConfig) Supported() []ModeStatus {
	out := make([]ModeStatus, 0, len(m))
	for status, ok := range m {
		if ok {
			out = append(out, status)
		}
	}
	slices.Sort(out)
	return out
}

// Value ranges accepted by the device.
const (
	MinHumidity = 30
	MaxHumidity = 70

	MinLEDBrightness = 0
	MaxLEDBrightness = 100

	AirFanMaxLevel   = 32
	OtherFanMaxLevel = 6
)

// DeviceDescriptor is the static model description reported by the device.
// A nil ModeConfig for an operating mode means the mode is unsupported.
type DeviceDescriptor struct {
	Model          string                       `json:"model"`
	Class          DeviceClass                  `json:"device_class"`
	OperatingModes map[OperatingMode]ModeConfig `json:"operating_modes"`
	HistorySupport bool                         `json:"history_support"`
}

// SupportedOperatingModes returns the operating modes with a config, ascending.
func (d DeviceDescriptor) SupportedOperatingModes() []OperatingMode {
	out := make([]OperatingMode, 0, len(d.OperatingModes))
	for mode, cfg := range d.OperatingModes {
		if cfg != nil {
			out = append(out, mode)
		}
	}
	slices.Sort(out)
	return out
}

// ModeConfigFor returns the config of an operating mode, or nil if the
// device does not support it.
func (d DeviceDescriptor) ModeConfigFor(mode OperatingMode) ModeConfig {
	return d.OperatingModes[mode]
}

// DeviceInfo holds hardware facts and current readings. It is refreshed on
// every poll.
type DeviceInfo struct {
	Device            DeviceDescriptor `json:"device"`
	SerialNumber      string           `json:"serial_number"`
	SoftwareVersion   string           `json:"software_version"`
	HardwareVersion   string           `json:"hardware_version"`
	HasParticleSensor bool             `json:"has_particle_sensor"`

	Temperature   int `json:"temperature"`
	Humidity      int `json:"humidity"`
	ParticleValue int `json:"particle_value"`
	VOC           int `json:"voc"`

	FanError        bool `json:"fan_error"`
	NoWater         bool `json:"no_water"`
	HumPackError    bool `json:"hum_pack_error"`
	NoFilter        bool `json:"no_filter"`
	FrontCoverError bool `json:"front_cover_error"`
}

// Clone returns a deep copy.
func (i DeviceInfo) Clone() DeviceInfo {
	out := i
	if i.Device.OperatingModes != nil {
		out.Device.OperatingModes = make(map[OperatingMode]ModeConfig, len(i.Device.OperatingModes))
		for mode, cfg := range i.Device.OperatingModes {
			if cfg == nil {
				out.Device.OperatingModes[mode] = nil
				continue
			}
			cp := make(ModeConfig, len(cfg))
			for k, v := range cfg {
				cp[k] = v
			}
			out.Device.OperatingModes[mode] = cp
		}
	}
	return out
}

// DeviceState is the writable operational state. SetState always sends the
// whole value, so callers mutate a Clone and submit it.
type DeviceState struct {
	Enabled             bool          `json:"is_enabled"`
	FanLevel            int           `json:"fan_level"`
	TargetHumidity      int           `json:"target_humidity"`
	OperatingMode       OperatingMode `json:"operating_mode"`
	ModeStatus          ModeStatus    `json:"mode_status"`
	Locked              bool          `json:"is_locked"`
	AlwaysHistoryActive bool          `json:"is_always_history_active"`
	MinLEDBrightness    int           `json:"min_led_brightness"`
	MaxLEDBrightness    int           `json:"max_led_brightness"`
	AirFan              bool          `json:"is_air_fan"`
	ChangeWaterNeeded   bool          `json:"is_change_water_needed"`

	HasReminderFilterDate      bool       `json:"has_reminder_filter_date"`
	HasReminderISSDate         bool       `json:"has_reminder_iss_date"`
	HasReminderCleanDate       bool       `json:"has_reminder_clean_date"`
	ReminderFilterDate         *time.Time `json:"reminder_filter_date,omitempty"`
	ReminderISSDate            *time.Time `json:"reminder_iss_date,omitempty"`
	ReminderCleanDate          *time.Time `json:"reminder_clean_date,omitempty"`
	HasServiceOperatingCounter bool       `json:"has_service_operating_counter"`
}

// Clone returns a deep copy so the reminder dates are not shared.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.ReminderFilterDate = cloneTime(s.ReminderFilterDate)
	out.ReminderISSDate = cloneTime(s.ReminderISSDate)
	out.ReminderCleanDate = cloneTime(s.ReminderCleanDate)
	return out
}

// FanMaxLevel returns the top fan level for this device kind.
func (s DeviceState) FanMaxLevel() int {
	if s.AirFan {
		return AirFanMaxLevel
	}
	return OtherFanMaxLevel
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Snapshot is one consistent read of a device: name, info and state from a
// single fetch.
type Snapshot struct {
	Name      string      `json:"name"`
	Info      DeviceInfo  `json:"info"`
	State     DeviceState `json:"state"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Name:      s.Name,
		Info:      s.Info.Clone(),
		State:     s.State.Clone(),
		FetchedAt: s.FetchedAt,
	}
}

// Identity is the stable description of a paired device.
type Identity struct {
	Address string      `json:"address"`
	Class   DeviceClass `json:"device_class"`
	Name    string      `json:"name"`
}
