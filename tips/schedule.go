/*
schedule.go - Auto-close deadline and period naming

PURPOSE:
  Computes the instant an active period must close, from its start time
  and the team's duration/alignment/closing-time settings.

ALGORITHM:
  1. Pick the nominal close day.
       aligned  day:   the start day
       aligned  week:  the Sunday ending the start's ISO week
       aligned  month: the last day of the start month
       rolling  day:   the start day
       rolling  week:  start + 7 days
       rolling  month: the first day of the following month
  2. Put the closing time on that day.
  3. Morning closing times (00:00-11:59) mean "after midnight": for day and
     calendar-aligned periods the close moves to the following day (the
     Monday after the aligned Sunday, the 1st after the aligned month end).
     Rolling week/month targets already sit on the day after the window and
     are not shifted again.
  4. A daily deadline already in the past moves forward one day. A weekly or
     monthly deadline at or before the start (a period opened exactly on an
     aligned boundary) moves to the next window.

EXAMPLE:
  start Mon 2024-04-08, week, aligned, 09:00  => Mon 2024-04-15 09:00
  start Mon 2024-04-08, week, aligned, 20:00  => Sun 2024-04-14 20:00
  start Mon 2024-04-08, week, rolling, 09:00  => Mon 2024-04-15 09:00

NAMING:
  Periods are named after the day they cover (see NamingDay): a daily
  period opened at the 23:00 deadline on Monday is "Tue 9 Apr 2024".

All calendar math happens in the start time's location.
*/
package tips

import (
	"fmt"
	"time"
)

// ComputeAutoCloseDate returns when a period started at start must close.
// now is only consulted by the daily past-deadline guard.
func ComputeAutoCloseDate(start time.Time, s Settings, now time.Time) time.Time {
	day := nominalCloseDay(start, s.PeriodDuration, s.AlignWithCalendar)

	if s.ClosingTime.IsMorning() && shiftsForMorning(s.PeriodDuration, s.AlignWithCalendar) {
		day = day.AddDate(0, 0, 1)
	}

	closeAt := time.Date(day.Year(), day.Month(), day.Day(),
		s.ClosingTime.Hour, s.ClosingTime.Minute, 0, 0, start.Location())

	// A period opened exactly at an aligned boundary belongs to the next window.
	if s.PeriodDuration != DurationDay && !closeAt.After(start) {
		return ComputeAutoCloseDate(StartOfDay(start).AddDate(0, 0, 1), s, now)
	}

	// A deadline equal to now counts as past, so a daily period opened at the
	// previous deadline gets tomorrow's.
	if s.PeriodDuration == DurationDay && !closeAt.After(now) {
		closeAt = closeAt.AddDate(0, 0, 1)
	}
	return closeAt
}

// nominalCloseDay returns midnight of the day the period nominally ends on.
func nominalCloseDay(start time.Time, d Duration, aligned bool) time.Time {
	day := StartOfDay(start)
	switch d {
	case DurationWeek:
		if aligned {
			return EndOfISOWeek(day)
		}
		return day.AddDate(0, 0, 7)
	case DurationMonth:
		if aligned {
			return EndOfMonth(day)
		}
		return StartOfMonth(day).AddDate(0, 1, 0)
	default:
		return day
	}
}

func shiftsForMorning(d Duration, aligned bool) bool {
	return d == DurationDay || aligned
}

// NamingDay returns the day a period started at start is named after. With
// auto-close on and an evening closing time, a period opened at or after
// that time covers the following business day, so it is named after the
// next day (the next week or month when it opens on the boundary).
func NamingDay(start time.Time, s Settings) time.Time {
	if !s.AutoClosePeriods || s.ClosingTime.IsMorning() {
		return start
	}
	closing := time.Date(start.Year(), start.Month(), start.Day(),
		s.ClosingTime.Hour, s.ClosingTime.Minute, 0, 0, start.Location())
	if start.Before(closing) {
		return start
	}
	return StartOfDay(start).AddDate(0, 0, 1)
}

// PeriodName derives a human-readable label from the duration granularity.
func PeriodName(start time.Time, d Duration) string {
	switch d {
	case DurationDay:
		return start.Format("Mon 2 Jan 2006")
	case DurationMonth:
		return start.Format("January 2006")
	default:
		year, week := start.ISOWeek()
		return fmt.Sprintf("Week %d %d", week, year)
	}
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, -1)
}

// EndOfISOWeek returns the Sunday closing t's Monday-based week.
func EndOfISOWeek(t time.Time) time.Time {
	offset := (7 - int(t.Weekday())) % 7 // Sunday is 0
	return StartOfDay(t).AddDate(0, 0, offset)
}
