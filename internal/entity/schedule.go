package entity

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the cadence class of a scheduled target.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyInterval Frequency = "interval"
)

// TimeOfDay is a local wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an "HH:MM" value in the range 00:00-23:59.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	v := strings.TrimSpace(s)
	// time.Parse accepts single-digit hours for "15".
	if len(v) != len("15:04") {
		return TimeOfDay{}, fmt.Errorf("malformed time %q, want HH:MM", s)
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("malformed time %q, want HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the instant at this time of day on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ScheduleEntry is one target under scheduled crawl management.
type ScheduleEntry struct {
	URL       string
	Frequency Frequency
	TimeOfDay TimeOfDay
	// DayOfMonth anchors monthly entries (1-31, clamped to the month length).
	DayOfMonth int
	// Interval is set for FrequencyInterval entries only.
	Interval time.Duration
	// Line is the 1-based line of the schedule file the entry came from.
	Line int
}
