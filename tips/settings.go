package tips

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Per-team configuration record
// =============================================================================

// Duration is the length of a tip period.
type Duration string

const (
	DurationDay   Duration = "day"
	DurationWeek  Duration = "week"
	DurationMonth Duration = "month"
)

// ParseDuration rejects anything outside {day, week, month}.
func ParseDuration(s string) (Duration, error) {
	switch d := Duration(s); d {
	case DurationDay, DurationWeek, DurationMonth:
		return d, nil
	}
	return "", &ConfigurationError{Field: "period_duration", Value: s}
}

// RoundingStep is the denomination payouts are floored to.
type RoundingStep string

const (
	RoundNone RoundingStep = "none"
	Round050  RoundingStep = "0.50"
	Round100  RoundingStep = "1.00"
	Round200  RoundingStep = "2.00"
	Round500  RoundingStep = "5.00"
	Round1000 RoundingStep = "10.00"
)

var roundingSteps = map[RoundingStep]decimal.Decimal{
	Round050:  decimal.RequireFromString("0.50"),
	Round100:  decimal.RequireFromString("1.00"),
	Round200:  decimal.RequireFromString("2.00"),
	Round500:  decimal.RequireFromString("5.00"),
	Round1000: decimal.RequireFromString("10.00"),
}

// ParseRoundingStep accepts the enumerated steps. An empty string means none.
func ParseRoundingStep(s string) (RoundingStep, error) {
	if s == "" || RoundingStep(s) == RoundNone {
		return RoundNone, nil
	}
	if _, ok := roundingSteps[RoundingStep(s)]; ok {
		return RoundingStep(s), nil
	}
	return "", &ConfigurationError{Field: "rounding_step", Value: s}
}

// Value returns the step size. ok is false for RoundNone.
func (r RoundingStep) Value() (step decimal.Decimal, ok bool) {
	step, ok = roundingSteps[r]
	return step, ok
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// IsMorning reports whether the time falls in 00:00-11:59. Morning closing
// times are read as "after midnight" of the nominal close day.
func (c ClockTime) IsMorning() bool { return c.Hour < 12 }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Validate checks the hour and minute ranges.
func (c ClockTime) Validate() error {
	if c.Hour < 0 || c.Hour > 23 {
		return &ConfigurationError{Field: "closing_time.hour", Value: fmt.Sprint(c.Hour)}
	}
	if c.Minute < 0 || c.Minute > 59 {
		return &ConfigurationError{Field: "closing_time.minute", Value: fmt.Sprint(c.Minute)}
	}
	return nil
}

// Settings is passed explicitly into the scheduler and rounding functions.
// Nothing in the engine reads settings from global state.
type Settings struct {
	PeriodDuration    Duration
	AutoClosePeriods  bool
	AlignWithCalendar bool
	ClosingTime       ClockTime
	RoundingStep      RoundingStep
}

// DefaultSettings is what a team gets before it configures anything, and what
// malformed stored settings fall back to.
func DefaultSettings() Settings {
	return Settings{
		PeriodDuration:    DurationWeek,
		AutoClosePeriods:  false,
		AlignWithCalendar: false,
		ClosingTime:       ClockTime{Hour: 0, Minute: 0},
		RoundingStep:      RoundNone,
	}
}

// Validate rejects unknown enum values and out-of-range closing times.
func (s Settings) Validate() error {
	if _, err := ParseDuration(string(s.PeriodDuration)); err != nil {
		return err
	}
	if _, err := ParseRoundingStep(string(s.RoundingStep)); err != nil {
		return err
	}
	return s.ClosingTime.Validate()
}
