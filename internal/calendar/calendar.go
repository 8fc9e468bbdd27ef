package calendar

import (
	"slices"
	"time"
)

// Calendar holds the weekly working schedule of every stage group.
// It is immutable after construction and safe for concurrent use.
type Calendar struct {
	loc    *time.Location
	groups map[int64]map[Weekday][]Range
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithLocation interprets range clock times in loc instead of UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// New builds a Calendar from rules. A later rule for the same (group, weekday)
// replaces an earlier one. Ranges are sorted by start.
func New(rules []Rule, opts ...Option) *Calendar {
	c := &Calendar{
		loc:    time.UTC,
		groups: make(map[int64]map[Weekday][]Range),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, r := range rules {
		if !r.Weekday.Valid() {
			continue
		}
		byDay, ok := c.groups[r.GroupID]
		if !ok {
			byDay = make(map[Weekday][]Range)
			c.groups[r.GroupID] = byDay
		}
		ranges := make([]Range, 0, len(r.Ranges))
		ranges = append(ranges, r.Ranges...)
		slices.SortFunc(ranges, func(a, b Range) int { return int(a.Start - b.Start) })
		byDay[r.Weekday] = ranges
	}
	return c
}

// AlwaysOpen is a calendar with no rules: every group works 24/7.
func AlwaysOpen() *Calendar {
	return New(nil)
}

// Location returns the zone clock times are read in.
func (c *Calendar) Location() *time.Location {
	if c == nil || c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// RangesFor returns the working ranges for a group on a weekday.
// Without a rule the whole day is open; an explicit empty rule means closed.
func (c *Calendar) RangesFor(groupID int64, day Weekday) []Range {
	if c != nil {
		if byDay, ok := c.groups[groupID]; ok {
			if ranges, ok := byDay[day]; ok {
				return ranges
			}
		}
	}
	return []Range{FullDay}
}

// WorkingTime returns how much of [start, end) falls inside the group's working ranges.
func (c *Calendar) WorkingTime(start, end time.Time, groupID int64) time.Duration {
	if !start.Before(end) {
		return 0
	}

	loc := c.Location()
	cursor := start.In(loc)
	stop := end.In(loc)

	var total time.Duration
	for cursor.Before(stop) {
		y, m, d := cursor.Date()
		dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
		dayEnd := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

		sliceEnd := dayEnd
		if stop.Before(sliceEnd) {
			sliceEnd = stop
		}

		from := cursor.Sub(dayStart)
		to := sliceEnd.Sub(dayStart)
		for _, r := range c.RangesFor(groupID, WeekdayOf(dayStart)) {
			total += overlap(from, to, clockOffset(dayStart, r.Start), clockOffset(dayStart, r.End))
		}

		cursor = sliceEnd
	}
	return total
}

// WorkingSecondsBetween is WorkingTime truncated to whole seconds.
func (c *Calendar) WorkingSecondsBetween(start, end time.Time, groupID int64) int64 {
	return int64(c.WorkingTime(start, end, groupID) / time.Second)
}

// clockOffset maps a wall clock onto the elapsed time since dayStart.
// On DST transition days the wall clock and elapsed time differ, so the
// offset is resolved through the location rather than by plain arithmetic.
func clockOffset(dayStart time.Time, c Clock) time.Duration {
	if c >= SecondsPerDay {
		y, m, d := dayStart.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, dayStart.Location()).Sub(dayStart)
	}
	if c <= 0 {
		return 0
	}
	y, m, d := dayStart.Date()
	h := int(c) / 3600
	mi := (int(c) % 3600) / 60
	s := int(c) % 60
	return time.Date(y, m, d, h, mi, s, 0, dayStart.Location()).Sub(dayStart)
}

func overlap(aStart, aEnd, bStart, bEnd time.Duration) time.Duration {
	start := max(aStart, bStart)
	end := min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}
