// Package timeutil provides the date arithmetic used by reading streaks and
// schedule evaluation. All day-level comparisons happen in a caller-supplied
// location so a reader in Almaty and a reader in Berlin both get their pages
// relative to their own midnight.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StartOfDay returns the start of the day (00:00:00) of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	a, b := t1.In(loc), t2.In(loc)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// IsConsecutiveDay checks if t2 is on the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time, loc *time.Location) bool {
	nextDay := t1.In(loc).AddDate(0, 0, 1)
	return IsSameDay(nextDay, t2, loc)
}

// DaysBetween returns the absolute number of calendar days between two times.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	a := StartOfDay(t1, loc)
	b := StartOfDay(t2, loc)
	days := int(b.Sub(a).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// DateString formats a time as YYYY-MM-DD in loc. Streak bookkeeping stores
// this form, matching how last_read_date is persisted.
func DateString(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// HourIn returns the hour of day of t in loc. Used by the night-owl
// achievement rule.
func HourIn(t time.Time, loc *time.Location) int {
	return t.In(loc).Hour()
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE TIME (HH:MM)
// ══════════════════════════════════════════════════════════════════════════════

// ClockTime is a wall-clock time of day without a date, as configured by a
// user for daily delivery ("08:30").
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses an "HH:MM" string into a ClockTime.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid schedule time %q: want HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid schedule hour %q", parts[0])
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid schedule minute %q", parts[1])
	}

	return ClockTime{Hour: hour, Minute: minute}, nil
}

// String returns the HH:MM representation.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at which this clock time occurs on the calendar day
// of t in loc.
func (c ClockTime) On(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK ABSTRACTION
// ══════════════════════════════════════════════════════════════════════════════

// Clock supplies the current time. Schedule evaluation and streak updates
// take a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.T }
