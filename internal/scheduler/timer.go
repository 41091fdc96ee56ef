// Package scheduler fires the entry and exit batches on their weekly
// triggers and executes them with per-order isolation.
package scheduler

import (
	"time"

	"github.com/nileshpandit/optionflow/internal/config"
)

// WeeklyTimer computes fire times for a recurring weekly trigger: a fixed
// time-of-day on a set of weekdays, evaluated in the exchange timezone.
type WeeklyTimer struct {
	hour     int
	minute   int
	weekdays map[time.Weekday]bool
	loc      *time.Location
}

// NewWeeklyTimer builds a timer from a validated trigger config.
func NewWeeklyTimer(trigger config.TriggerConfig, loc *time.Location) *WeeklyTimer {
	hour, minute := trigger.TriggerClock()
	return &WeeklyTimer{
		hour:     hour,
		minute:   minute,
		weekdays: trigger.WeekdaySet(),
		loc:      loc,
	}
}

// Next returns the first fire time strictly after the given instant. The
// result is deterministic: the same input always yields the same output, and
// daylight-savings shifts are absorbed by constructing the candidate in the
// trigger's own location.
func (t *WeeklyTimer) Next(after time.Time) time.Time {
	local := after.In(t.loc)
	for day := 0; day <= 7; day++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+day,
			t.hour, t.minute, 0, 0, t.loc)
		if candidate.After(after) && t.weekdays[candidate.Weekday()] {
			return candidate
		}
	}
	// Unreachable for a non-empty weekday set; config validation rejects
	// empty masks.
	return time.Time{}
}
