package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/crawl-orchestrator/internal/entity"
)

// NextDue returns when entry is next due to run. It is a pure function of its inputs.
// Targets that never ran are due at now. Wall-clock times are evaluated in now's location.
func NextDue(entry entity.ScheduleEntry, record entity.RunRecord, now time.Time) time.Time {
	if record.LastRunAt == nil {
		return now
	}
	last := record.LastRunAt.In(now.Location())

	switch entry.Frequency {
	case entity.FrequencyDaily:
		if slot := entry.TimeOfDay.On(last); slot.After(last) {
			return slot
		}
		return entry.TimeOfDay.On(last.AddDate(0, 0, 1))
	case entity.FrequencyWeekly:
		return entry.TimeOfDay.On(last.AddDate(0, 0, 7))
	case entity.FrequencyMonthly:
		if slot := monthlySlot(entry, last.Year(), last.Month(), last.Location()); slot.After(last) {
			return slot
		}
		next := time.Date(last.Year(), last.Month()+1, 1, 0, 0, 0, 0, last.Location())
		return monthlySlot(entry, next.Year(), next.Month(), last.Location())
	case entity.FrequencyInterval:
		return cron.Every(entry.Interval).Next(last)
	}
	return now
}

// IsDue reports whether entry should be launched at now.
func IsDue(entry entity.ScheduleEntry, record entity.RunRecord, now time.Time) bool {
	if record.InProgress {
		return false
	}
	return !now.Before(NextDue(entry, record, now))
}

// monthlySlot returns the anchor day of the given month at the entry's time of day,
// clamping the day to the last day of shorter months.
func monthlySlot(entry entity.ScheduleEntry, year int, month time.Month, loc *time.Location) time.Time {
	day := entry.DayOfMonth
	if day < 1 {
		day = defaultAnchor
	}
	if last := daysIn(year, month, loc); day > last {
		day = last
	}
	return time.Date(year, month, day, entry.TimeOfDay.Hour, entry.TimeOfDay.Minute, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
