package orders

import (
	"fmt"
	"strings"
	"time"

	"crm-sla/internal/eventlog"
)

// ParseFilter builds a Filter from user input. Bounds are dates (YYYY-MM-DD)
// or CRM timestamps; a bare "to" date covers the whole UTC day.
func ParseFilter(from, to string, limit int, urgency string) (Filter, error) {
	var f Filter
	var err error
	if f.From, err = parseBound(from, false); err != nil {
		return f, fmt.Errorf("invalid from: %w", err)
	}
	if f.To, err = parseBound(to, true); err != nil {
		return f, fmt.Errorf("invalid to: %w", err)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("to (%s) is before from (%s)", to, from)
	}
	if limit < 0 {
		return f, fmt.Errorf("limit must not be negative")
	}
	f.Limit = limit
	if f.Urgency, err = ParseUrgencyFilter(urgency); err != nil {
		return f, err
	}
	return f, nil
}

func parseBound(s string, end bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if end {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := eventlog.ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
