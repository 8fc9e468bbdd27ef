package calendar

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecondsPerDay is the length of a full working range.
const SecondsPerDay = 24 * 3600

// Weekday uses the Monday-first convention (Monday = 0 ... Sunday = 6).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf converts Go's Sunday-first weekday of t to the Monday-first convention.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

func (w Weekday) String() string {
	names := [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return names[w]
}

// Clock is a wall-clock time of day expressed in seconds since midnight.
type Clock int

// ParseClock parses "HH:MM" or "HH:MM:SS". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q: expected HH:MM", s)
	}

	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		vals[i] = n
	}

	h, m, sec := vals[0], vals[1], vals[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid clock %q: minutes and seconds must be below 60", s)
	}
	c := Clock(h*3600 + m*60 + sec)
	if c > SecondsPerDay {
		return 0, fmt.Errorf("invalid clock %q: past 24:00", s)
	}
	return c, nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	h := int(c) / 3600
	m := (int(c) % 3600) / 60
	s := int(c) % 60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Range is a half-open [Start, End) working window within one day.
type Range struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// FullDay covers the whole calendar day.
var FullDay = Range{Start: 0, End: SecondsPerDay}

// Seconds returns the length of the range, zero when inverted.
func (r Range) Seconds() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// Rule binds the working ranges of one weekday to a stage group.
// A nil or empty Ranges slice closes the group for that day.
type Rule struct {
	GroupID int64   `json:"group_id" validate:"gte=0"`
	Weekday Weekday `json:"weekday" validate:"gte=0,lte=6"`
	Ranges  []Range `json:"ranges" validate:"dive"`
}

// MarshalJSON keeps an explicit empty list so that "closed all day" survives a round trip.
func (r Rule) MarshalJSON() ([]byte, error) {
	type alias Rule
	a := alias(r)
	if a.Ranges == nil {
		a.Ranges = []Range{}
	}
	return json.Marshal(a)
}
