package stats

import (
	"time"

	"crm-sla/internal/calendar"
	"crm-sla/internal/eventlog"
)

// Condition selects the events that open or close a cycle.
type Condition struct {
	GroupID  *int64
	StatusID *int64
}

// Matches applies the resolution chain: a status-level condition wins over a
// group-level one, and a condition with neither never matches.
func (c Condition) Matches(e eventlog.StatusEvent) bool {
	switch {
	case c.StatusID != nil:
		return e.StatusID == *c.StatusID
	case c.GroupID != nil:
		return e.GroupID == *c.GroupID
	default:
		return false
	}
}

// Defined reports whether the condition can match anything.
func (c Condition) Defined() bool {
	return c.StatusID != nil || c.GroupID != nil
}

// CycleRule names the points in the pipeline between which lead time is measured.
type CycleRule struct {
	ID            int64  `json:"id" validate:"gt=0"`
	ProjectID     int64  `json:"project_id,omitempty"`
	Title         string `json:"title"`
	StartGroupID  *int64 `json:"start_group_id,omitempty"`
	StartStatusID *int64 `json:"start_status_id,omitempty"`
	EndGroupID    *int64 `json:"end_group_id,omitempty"`
	EndStatusID   *int64 `json:"end_status_id,omitempty"`
}

func (r CycleRule) Start() Condition {
	return Condition{GroupID: r.StartGroupID, StatusID: r.StartStatusID}
}

func (r CycleRule) End() Condition {
	return Condition{GroupID: r.EndGroupID, StatusID: r.EndStatusID}
}

// Cycle is the measured lead time of one order. Seconds is nil when unknown.
type Cycle struct {
	StartAt *time.Time `json:"cycle_start_at"`
	EndAt   *time.Time `json:"cycle_end_at"`
	Seconds *int64     `json:"cycle_seconds"`
}

// ExtractCycle finds the first start match and the first end match over the
// chronological log. The two scans are independent of each other.
func ExtractCycle(events []eventlog.StatusEvent, rule *CycleRule, cal *calendar.Calendar, now time.Time) Cycle {
	if rule == nil || len(events) == 0 {
		return Cycle{}
	}

	sorted := eventlog.SortChronologically(events)
	start, end := rule.Start(), rule.End()

	var c Cycle
	for _, e := range sorted {
		if c.StartAt == nil && start.Matches(e) {
			t := e.EnteredAt
			c.StartAt = &t
		}
		if c.EndAt == nil && end.Matches(e) {
			t := e.EnteredAt
			c.EndAt = &t
		}
		if c.StartAt != nil && c.EndAt != nil {
			break
		}
	}

	c.Seconds = windowSeconds(sorted, cal, c.StartAt, c.EndAt, now)
	return c
}

// ApplyCycleOverride replaces the extracted bounds with manually set ones and
// measures the resulting window again.
func ApplyCycleOverride(c Cycle, start, end *time.Time, events []eventlog.StatusEvent, cal *calendar.Calendar, now time.Time) Cycle {
	if start == nil && end == nil {
		return c
	}
	if start != nil {
		t := *start
		c.StartAt = &t
	}
	if end != nil {
		t := *end
		c.EndAt = &t
	}
	c.Seconds = windowSeconds(events, cal, c.StartAt, c.EndAt, now)
	return c
}

// WindowWorkingSeconds sums the working time of every event interval clipped
// to [start, end), each in the group active during it.
func WindowWorkingSeconds(events []eventlog.StatusEvent, cal *calendar.Calendar, start, end, now time.Time) int64 {
	var total time.Duration
	for _, iv := range eventlog.BuildIntervals(events, now) {
		from := later(iv.EnteredAt, start)
		to := earlier(iv.LeftAt, end)
		if !from.Before(to) {
			continue
		}
		total += cal.WorkingTime(from, to, iv.GroupID)
	}
	return int64(total / time.Second)
}

func windowSeconds(events []eventlog.StatusEvent, cal *calendar.Calendar, start, end *time.Time, now time.Time) *int64 {
	if start == nil || end == nil || !end.After(*start) {
		return nil
	}
	s := WindowWorkingSeconds(events, cal, *start, *end, now)
	return &s
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
