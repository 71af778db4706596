package entity

import (
	"strconv"
	"time"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// Reminder periods applied by the reset buttons.
const (
	CleanPeriod  = 14 * 24 * time.Hour
	ISSPeriod    = 365 * 24 * time.Hour
	FilterPeriod = 365 * 24 * time.Hour
)

const dateLayout = "2006-01-02"

func always(Input) bool { return true }

type binarySensor struct {
	key    string
	exists func(in Input) bool
	value  func(in Input) bool
}

func (b binarySensor) Key() string          { return b.key }
func (b binarySensor) Platform() Platform   { return PlatformBinarySensor }
func (b binarySensor) Exists(in Input) bool { return b.exists(in) }
func (b binarySensor) Read(in Input) any    { return b.value(in) }

type sensor struct {
	key    string
	unit   string
	exists func(in Input) bool
	value  func(in Input) any
}

func (s sensor) Key() string          { return s.key }
func (s sensor) Platform() Platform   { return PlatformSensor }
func (s sensor) Exists(in Input) bool { return s.exists(in) }
func (s sensor) Read(in Input) any    { return s.value(in) }
func (s sensor) Unit() string         { return s.unit }

type number struct {
	key    string
	get    func(s boneco.DeviceState) int
	set    func(s *boneco.DeviceState, v int)
	bounds func(s boneco.DeviceState) (int, int)
}

func (n number) Key() string        { return n.key }
func (n number) Platform() Platform { return PlatformNumber }
func (n number) Exists(Input) bool  { return true }
func (n number) Read(in Input) any  { return n.get(in.Snapshot.State) }
func (n number) Unit() string       { return "%" }

func (n number) Bounds(state boneco.DeviceState) (int, int) {
	return n.bounds(state)
}

func (n number) Write(_ Input, state *boneco.DeviceState, value any) error {
	v, err := toInt(value)
	if err != nil {
		return err
	}
	low, high := n.bounds(*state)
	if err := checkRange(n.key, v, low, high); err != nil {
		return err
	}
	n.set(state, v)
	return nil
}

type toggle struct {
	key    string
	exists func(in Input) bool
	get    func(s boneco.DeviceState) bool
	set    func(s *boneco.DeviceState, v bool)
}

func (t toggle) Key() string          { return t.key }
func (t toggle) Platform() Platform   { return PlatformSwitch }
func (t toggle) Exists(in Input) bool { return t.exists(in) }
func (t toggle) Read(in Input) any    { return t.get(in.Snapshot.State) }

func (t toggle) Write(_ Input, state *boneco.DeviceState, value any) error {
	v, err := toBool(value)
	if err != nil {
		return err
	}
	t.set(state, v)
	return nil
}

type button struct {
	key    string
	exists func(in Input) bool
	period time.Duration
	set    func(s *boneco.DeviceState, at *time.Time)
}

func (b button) Key() string          { return b.key }
func (b button) Platform() Platform   { return PlatformButton }
func (b button) Exists(in Input) bool { return b.exists(in) }
func (b button) Read(Input) any       { return nil }

// Press moves the reminder one period ahead of now. Devices with a service
// operating counter track the period themselves and get a cleared date.
func (b button) Press(state *boneco.DeviceState, now time.Time) {
	if state.HasServiceOperatingCounter {
		b.set(state, nil)
		return
	}
	next := now.Add(b.period)
	b.set(state, &next)
}

type operatingModeSelect struct{}

func (operatingModeSelect) Key() string        { return "operating_mode" }
func (operatingModeSelect) Platform() Platform { return PlatformSelect }

func (operatingModeSelect) Exists(in Input) bool {
	return len(in.Snapshot.Info.Device.SupportedOperatingModes()) > 1
}

func (operatingModeSelect) Read(in Input) any {
	return strconv.Itoa(int(in.Snapshot.State.OperatingMode))
}

func (operatingModeSelect) Options(in Input) []string {
	modes := in.Snapshot.Info.Device.SupportedOperatingModes()
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		out = append(out, strconv.Itoa(int(m)))
	}
	return out
}

func (s operatingModeSelect) Write(in Input, state *boneco.DeviceState, value any) error {
	opt, err := toOption(value)
	if err != nil {
		return err
	}
	if err := checkOption(s.Key(), opt, s.Options(in)); err != nil {
		return err
	}
	v, _ := strconv.Atoi(opt)
	state.OperatingMode = boneco.OperatingMode(v)
	return nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func classIs(classes ...boneco.DeviceClass) func(in Input) bool {
	return func(in Input) bool {
		for _, c := range classes {
			if in.Class == c {
				return true
			}
		}
		return false
	}
}

func notAirFan(in Input) bool { return !in.Snapshot.State.AirFan }

// table lists every entity record, grouped by platform.
var table = []Entity{
	binarySensor{
		key:    "fan_error",
		exists: always,
		value:  func(in Input) bool { return in.Snapshot.Info.FanError },
	},
	binarySensor{
		key:    "no_water",
		exists: notAirFan,
		value:  func(in Input) bool { return in.Snapshot.Info.NoWater },
	},
	binarySensor{
		key:    "hum_pack_error",
		exists: notAirFan,
		value:  func(in Input) bool { return in.Snapshot.Info.HumPackError },
	},
	binarySensor{
		key:    "no_filter",
		exists: func(in Input) bool { return in.Class.HasFilter() },
		value:  func(in Input) bool { return in.Snapshot.Info.NoFilter },
	},
	binarySensor{
		key:    "no_front_cover",
		exists: classIs(boneco.ClassTopClimate),
		value:  func(in Input) bool { return in.Snapshot.Info.FrontCoverError },
	},
	binarySensor{
		key:    "change_water",
		exists: classIs(boneco.ClassTopClimate),
		value:  func(in Input) bool { return in.Snapshot.State.ChangeWaterNeeded },
	},

	button{
		key:    "reset_reminder_clean_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderCleanDate },
		period: CleanPeriod,
		set:    func(s *boneco.DeviceState, at *time.Time) { s.ReminderCleanDate = at },
	},
	button{
		key:    "reset_reminder_iss_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderISSDate },
		period: ISSPeriod,
		set:    func(s *boneco.DeviceState, at *time.Time) { s.ReminderISSDate = at },
	},
	button{
		key:    "reset_reminder_filter_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderFilterDate },
		period: FilterPeriod,
		set:    func(s *boneco.DeviceState, at *time.Time) { s.ReminderFilterDate = at },
	},

	fan{},
	humidifier{},

	number{
		key: "min_led_brightness",
		get: func(s boneco.DeviceState) int { return s.MinLEDBrightness },
		set: func(s *boneco.DeviceState, v int) { s.MinLEDBrightness = v },
		bounds: func(s boneco.DeviceState) (int, int) {
			return boneco.MinLEDBrightness, s.MaxLEDBrightness
		},
	},
	number{
		key: "max_led_brightness",
		get: func(s boneco.DeviceState) int { return s.MaxLEDBrightness },
		set: func(s *boneco.DeviceState, v int) { s.MaxLEDBrightness = v },
		bounds: func(s boneco.DeviceState) (int, int) {
			return s.MinLEDBrightness, boneco.MaxLEDBrightness
		},
	},

	operatingModeSelect{},

	sensor{
		key:    "temperature",
		unit:   "°C",
		exists: func(in Input) bool { return in.Snapshot.Info.Temperature != 0 },
		value:  func(in Input) any { return in.Snapshot.Info.Temperature },
	},
	sensor{
		key:    "humidity",
		unit:   "%",
		exists: always,
		value:  func(in Input) any { return in.Snapshot.Info.Humidity },
	},
	sensor{
		key:    "pm25",
		unit:   "µg/m³",
		exists: func(in Input) bool { return in.Snapshot.Info.HasParticleSensor },
		value:  func(in Input) any { return in.Snapshot.Info.ParticleValue },
	},
	sensor{
		key:    "voc",
		unit:   "µg/m³",
		exists: func(in Input) bool { return in.Snapshot.Info.HasParticleSensor },
		value:  func(in Input) any { return in.Snapshot.Info.VOC },
	},
	sensor{
		key:    "reminder_filter_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderFilterDate },
		value:  func(in Input) any { return formatDate(in.Snapshot.State.ReminderFilterDate) },
	},
	sensor{
		key:    "reminder_iss_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderISSDate },
		value:  func(in Input) any { return formatDate(in.Snapshot.State.ReminderISSDate) },
	},
	sensor{
		key:    "reminder_clean_date",
		exists: func(in Input) bool { return in.Snapshot.State.HasReminderCleanDate },
		value:  func(in Input) any { return formatDate(in.Snapshot.State.ReminderCleanDate) },
	},
	sensor{
		key:    "rssi",
		unit:   "dBm",
		exists: always,
		value: func(in Input) any {
			if in.RSSI == nil {
				return nil
			}
			return *in.RSSI
		},
	},

	toggle{
		key:    "child_lock",
		exists: always,
		get:    func(s boneco.DeviceState) bool { return s.Locked },
		set:    func(s *boneco.DeviceState, v bool) { s.Locked = v },
	},
	toggle{
		key:    "history_active",
		exists: func(in Input) bool { return in.Snapshot.Info.Device.HistorySupport },
		get:    func(s boneco.DeviceState) bool { return s.AlwaysHistoryActive },
		set:    func(s *boneco.DeviceState, v bool) { s.AlwaysHistoryActive = v },
	},
}
