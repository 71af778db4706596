package entity

import (
	"fmt"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Humidifier mode names.
const (
	ModeNormal = "normal"
	ModeAuto   = "auto"
	ModeBaby   = "baby"
	ModeSleep  = "sleep"
)

var modeNames = map[boneco.ModeStatus]string{
	boneco.ModeStatusCustom: ModeNormal,
	boneco.ModeStatusAuto:   ModeAuto,
	boneco.ModeStatusBaby:   ModeBaby,
	boneco.ModeStatusSleep:  ModeSleep,
}

// ModeName returns the name of a mode status, or "" if unknown.
func ModeName(status boneco.ModeStatus) string {
	return modeNames[status]
}

// ParseModeName returns the mode status for a name.
func ParseModeName(name string) (boneco.ModeStatus, bool) {
	for status, n := range modeNames {
		if n == name {
			return status, true
		}
	}
	return 0, false
}

// HumidifierValue is what the humidifier entity reports.
type HumidifierValue struct {
	IsOn            bool     `json:"is_on"`
	CurrentHumidity int      `json:"current_humidity"`
	TargetHumidity  int      `json:"target_humidity"`
	Mode            string   `json:"mode"`
	AvailableModes  []string `json:"available_modes"`
}

// humidifier exists when the device reports a config for the humidifier
// operating mode. Writes take a bool for on/off or an object with any of
// is_on, target_humidity and mode.
type humidifier struct{}

func (humidifier) Key() string        { return "humidifier" }
func (humidifier) Platform() Platform { return PlatformHumidifier }
func (humidifier) Unit() string       { return "%" }

func (humidifier) Exists(in Input) bool {
	return in.Snapshot.Info.Device.ModeConfigFor(boneco.OperatingModeHumidifier) != nil
}

func (h humidifier) Read(in Input) any {
	s := in.Snapshot
	return HumidifierValue{
		IsOn:            s.State.Enabled,
		CurrentHumidity: s.Info.Humidity,
		TargetHumidity:  s.State.TargetHumidity,
		Mode:            ModeName(s.State.ModeStatus),
		AvailableModes:  h.Options(in),
	}
}

// Options lists the supported mode names.
func (humidifier) Options(in Input) []string {
	cfg := in.Snapshot.Info.Device.ModeConfigFor(boneco.OperatingModeHumidifier)
	out := make([]string, 0, len(cfg))
	for _, status := range cfg.Supported() {
		if name := ModeName(status); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (humidifier) Bounds(boneco.DeviceState) (int, int) {
	return boneco.MinHumidity, boneco.MaxHumidity
}

func (h humidifier) Write(in Input, state *boneco.DeviceState, value any) error {
	if on, ok := value.(bool); ok {
		state.Enabled = on
		return nil
	}
	fields, ok := value.(map[string]any)
	if !ok || len(fields) == 0 {
		return fmt.Errorf("%w: %s expects a bool or an object", ErrInvalidValue, h.Key())
	}

	next := *state
	for name, raw := range fields {
		switch name {
		case "is_on":
			on, err := toBool(raw)
			if err != nil {
				return err
			}
			next.Enabled = on
		case "target_humidity":
			v, err := toInt(raw)
			if err != nil {
				return err
			}
			if err := checkRange("target_humidity", v, boneco.MinHumidity, boneco.MaxHumidity); err != nil {
				return err
			}
			next.TargetHumidity = v
		case "mode":
			mode, ok := raw.(string)
			if !ok {
				return fmt.Errorf("%w: mode must be a string", ErrInvalidValue)
			}
			if err := checkOption("mode", mode, h.Options(in)); err != nil {
				return err
			}
			next.ModeStatus, _ = ParseModeName(mode)
		default:
			return fmt.Errorf("%w: unknown humidifier field %q", ErrInvalidValue, name)
		}
	}
	*state = next
	return nil
}
