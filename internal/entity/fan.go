package entity

import (
	"math"

	"github.com/DeKaN/ha-boneco/internal/boneco"
)

// LevelToPercentage maps a fan level in 1..maxLevel to 0..100.
func LevelToPercentage(level, maxLevel int) int {
	if maxLevel <= 0 {
		return 0
	}
	return level * 100 / maxLevel
}

// PercentageToLevel maps 0..100 to a fan level, rounding up so any non-zero
// percentage runs the fan.
func PercentageToLevel(percentage, maxLevel int) int {
	return int(math.Ceil(float64(maxLevel) * float64(percentage) / 100))
}

// fan exposes the fan level as a percentage. Air fans have 32 levels, the
// other kinds 6.
type fan struct{}

func (fan) Key() string        { return "fan" }
func (fan) Platform() Platform { return PlatformFan }
func (fan) Exists(Input) bool  { return true }
func (fan) Unit() string       { return "%" }

func (fan) Read(in Input) any {
	s := in.Snapshot.State
	return LevelToPercentage(s.FanLevel, s.FanMaxLevel())
}

func (fan) Bounds(boneco.DeviceState) (int, int) {
	return 0, 100
}

func (f fan) Write(_ Input, state *boneco.DeviceState, value any) error {
	pct, err := toInt(value)
	if err != nil {
		return err
	}
	if err := checkRange(f.Key(), pct, 0, 100); err != nil {
		return err
	}
	state.FanLevel = PercentageToLevel(pct, state.FanMaxLevel())
	return nil
}
