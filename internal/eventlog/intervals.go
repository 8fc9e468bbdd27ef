package eventlog

import (
	"slices"
	"time"
)

// SortChronologically orders events by EnteredAt, keeping the input order of ties.
func SortChronologically(events []StatusEvent) []StatusEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b StatusEvent) int {
		return a.EnteredAt.Compare(b.EnteredAt)
	})
	return sorted
}

// BuildIntervals turns an order's events into consecutive residency intervals.
// Each event is left when the next one is entered; the last one stays open until now.
func BuildIntervals(events []StatusEvent, now time.Time) []Interval {
	if len(events) == 0 {
		return nil
	}

	sorted := SortChronologically(events)
	intervals := make([]Interval, 0, len(sorted))
	for i, e := range sorted {
		iv := Interval{
			StatusID:  e.StatusID,
			GroupID:   e.GroupID,
			EnteredAt: e.EnteredAt,
		}
		if i+1 < len(sorted) {
			iv.LeftAt = sorted[i+1].EnteredAt
		} else {
			iv.LeftAt = now
			iv.Open = true
		}
		intervals = append(intervals, iv)
	}
	return intervals
}
