/*
Package factory converts team settings between JSON and tips.Settings.

PURPOSE:
  Settings arrive from the settings UI and are stored as JSON blobs. The
  factory turns them into a closed, validated record so that unknown
  durations or rounding steps are rejected at the boundary instead of
  silently defaulting deep inside the engine.

JSON SCHEMA:
  {
    "period_duration": "week",          // day | week | month
    "auto_close_periods": true,
    "align_with_calendar": false,
    "closing_time": {"hour": 0, "minute": 0},
    "rounding_step": "none"             // none | 0.50 | 1.00 | 2.00 | 5.00 | 10.00
  }

  Missing fields take the documented defaults (week, 00:00, not aligned,
  no rounding, auto-close off).

PARSE vs RECOVER:
  Parse:   strict, returns ConfigurationError for any bad field
  Recover: for blobs read back from storage; a malformed blob falls back to
           tips.DefaultSettings() and the error is returned alongside so the
           caller can log it

SEE ALSO:
  - tips/settings.go: Settings type and enums
  - store/sqlite/sqlite.go: stores the JSON produced here
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of team settings.
type SettingsJSON struct {
	PeriodDuration    string           `json:"period_duration,omitempty"`
	AutoClosePeriods  bool             `json:"auto_close_periods"`
	AlignWithCalendar bool             `json:"align_with_calendar"`
	ClosingTime       *ClosingTimeJSON `json:"closing_time,omitempty"`
	RoundingStep      string           `json:"rounding_step,omitempty"`
}

// ClosingTimeJSON is a wall-clock time of day.
type ClosingTimeJSON struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// =============================================================================
// CONVERSION
// =============================================================================

// Parse decodes and validates a settings blob.
func Parse(data []byte) (tips.Settings, error) {
	var raw SettingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return tips.Settings{}, fmt.Errorf("%w: %v", tips.ErrConfiguration, err)
	}
	return FromJSON(raw)
}

// Recover decodes a stored blob, falling back to defaults when it is
// malformed. The returned error is informational.
func Recover(data []byte) (tips.Settings, error) {
	s, err := Parse(data)
	if err != nil {
		return tips.DefaultSettings(), err
	}
	return s, nil
}

// FromJSON validates raw settings and fills defaults for empty fields.
func FromJSON(raw SettingsJSON) (tips.Settings, error) {
	s := tips.DefaultSettings()
	s.AutoClosePeriods = raw.AutoClosePeriods
	s.AlignWithCalendar = raw.AlignWithCalendar

	if raw.PeriodDuration != "" {
		d, err := tips.ParseDuration(raw.PeriodDuration)
		if err != nil {
			return tips.Settings{}, err
		}
		s.PeriodDuration = d
	}

	step, err := tips.ParseRoundingStep(raw.RoundingStep)
	if err != nil {
		return tips.Settings{}, err
	}
	s.RoundingStep = step

	if raw.ClosingTime != nil {
		s.ClosingTime = tips.ClockTime{Hour: raw.ClosingTime.Hour, Minute: raw.ClosingTime.Minute}
	}
	if err := s.Validate(); err != nil {
		return tips.Settings{}, err
	}
	return s, nil
}

// ToJSON converts settings into their JSON representation.
func ToJSON(s tips.Settings) SettingsJSON {
	return SettingsJSON{
		PeriodDuration:    string(s.PeriodDuration),
		AutoClosePeriods:  s.AutoClosePeriods,
		AlignWithCalendar: s.AlignWithCalendar,
		ClosingTime:       &ClosingTimeJSON{Hour: s.ClosingTime.Hour, Minute: s.ClosingTime.Minute},
		RoundingStep:      string(s.RoundingStep),
	}
}

// Marshal encodes settings for storage.
func Marshal(s tips.Settings) ([]byte, error) {
	return json.Marshal(ToJSON(s))
}
