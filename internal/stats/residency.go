package stats

import (
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/eventlog"
)

// Residency is the time an order spent in each stage, keyed by status group.
type Residency struct {
	// Working counts only the group's working hours.
	Working map[int64]int64 `json:"stage_seconds"`
	// Calendar is wall-clock time regardless of working hours.
	Calendar map[int64]int64 `json:"stage_calendar_seconds"`
}

// MeasuredInterval is an interval annotated with its durations.
type MeasuredInterval struct {
	eventlog.Interval
	WorkingSeconds  int64 `json:"working_seconds"`
	CalendarSeconds int64 `json:"calendar_seconds"`
}

// MeasureIntervals derives the residency intervals of an order and sizes each one.
func MeasureIntervals(events []eventlog.StatusEvent, cal *calendar.Calendar, now time.Time) []MeasuredInterval {
	intervals := eventlog.BuildIntervals(events, now)
	measured := make([]MeasuredInterval, 0, len(intervals))
	for _, iv := range intervals {
		measured = append(measured, MeasuredInterval{
			Interval:        iv,
			WorkingSeconds:  cal.WorkingSecondsBetween(iv.EnteredAt, iv.LeftAt, iv.GroupID),
			CalendarSeconds: calendarSeconds(iv.EnteredAt, iv.LeftAt),
		})
	}
	return measured
}

// CalculateResidency attributes every interval to the group that was active during it.
// Revisits of a group add up. The last event is treated as open until now.
func CalculateResidency(events []eventlog.StatusEvent, cal *calendar.Calendar, now time.Time) Residency {
	working := make(map[int64]time.Duration)
	wall := make(map[int64]time.Duration)

	for _, iv := range eventlog.BuildIntervals(events, now) {
		working[iv.GroupID] += cal.WorkingTime(iv.EnteredAt, iv.LeftAt, iv.GroupID)
		wall[iv.GroupID] += max(iv.LeftAt.Sub(iv.EnteredAt), 0)
	}

	res := Residency{
		Working:  make(map[int64]int64, len(working)),
		Calendar: make(map[int64]int64, len(wall)),
	}
	for g, d := range working {
		res.Working[g] = int64(d / time.Second)
	}
	for g, d := range wall {
		res.Calendar[g] = int64(d / time.Second)
	}
	return res
}

// AccumulateStageSeconds returns working seconds per status group.
func AccumulateStageSeconds(events []eventlog.StatusEvent, cal *calendar.Calendar, now time.Time) map[int64]int64 {
	return CalculateResidency(events, cal, now).Working
}

func calendarSeconds(start, end time.Time) int64 {
	if !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}
