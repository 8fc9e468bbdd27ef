package calendar

import (
	"encoding/json"
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func officeHours(groupID int64, days ...Weekday) []Rule {
	var rules []Rule
	for _, d := range days {
		rules = append(rules, Rule{
			GroupID: groupID,
			Weekday: d,
			Ranges:  []Range{{Start: MustClock("09:00"), End: MustClock("18:00")}},
		})
	}
	return rules
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 9*3600 + 30*60, false},
		{"23:59", 23*3600 + 59*60, false},
		{"24:00", SecondsPerDay, false},
		{"12:00:15", 12*3600 + 15, false},
		{"24:01", 0, true},
		{"9", 0, true},
		{"aa:bb", 0, true},
		{"10:60", 0, true},
		{"-1:00", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestWeekdayOf_MondayFirst(t *testing.T) {
	// 2025-01-06 is a Monday, 2025-01-05 a Sunday.
	if got := WeekdayOf(at("2025-01-06T10:00:00Z")); got != Monday {
		t.Errorf("expected Monday, got %v", got)
	}
	if got := WeekdayOf(at("2025-01-05T10:00:00Z")); got != Sunday {
		t.Errorf("expected Sunday, got %v", got)
	}
}

func TestWorkingTime_DegenerateIntervals(t *testing.T) {
	cal := New(officeHours(2, Monday, Tuesday, Wednesday, Thursday, Friday))
	t0 := at("2025-01-06T10:00:00Z")

	if got := cal.WorkingSecondsBetween(t0, t0, 2); got != 0 {
		t.Errorf("zero-length interval: expected 0, got %d", got)
	}
	if got := cal.WorkingSecondsBetween(t0.Add(time.Hour), t0, 2); got != 0 {
		t.Errorf("inverted interval: expected 0, got %d", got)
	}
	var nilCal *Calendar
	if got := nilCal.WorkingSecondsBetween(t0, t0.Add(time.Hour), 2); got != 3600 {
		t.Errorf("nil calendar should be 24/7: expected 3600, got %d", got)
	}
}

func TestWorkingTime_DefaultIsOpenAllDay(t *testing.T) {
	cal := AlwaysOpen()
	start := at("2025-01-01T08:00:00Z")
	end := at("2025-01-03T20:30:00Z")

	want := int64(end.Sub(start) / time.Second)
	if got := cal.WorkingSecondsBetween(start, end, 42); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestWorkingTime_DefaultMatchesExplicitFullDay(t *testing.T) {
	var full []Rule
	for d := Monday; d <= Sunday; d++ {
		full = append(full, Rule{GroupID: 1, Weekday: d, Ranges: []Range{{Start: MustClock("00:00"), End: MustClock("24:00")}}})
	}
	explicit := New(full)
	implicit := New(nil)

	intervals := [][2]string{
		{"2025-01-01T00:00:00Z", "2025-01-01T23:59:59Z"},
		{"2025-01-04T06:15:00Z", "2025-01-04T06:45:00Z"},
		{"2025-01-05T12:00:00Z", "2025-01-05T23:00:00Z"},
	}
	for _, iv := range intervals {
		a, b := at(iv[0]), at(iv[1])
		if e, i := explicit.WorkingSecondsBetween(a, b, 1), implicit.WorkingSecondsBetween(a, b, 1); e != i {
			t.Errorf("%s..%s: explicit %d != implicit %d", iv[0], iv[1], e, i)
		}
	}

	// 23:59 as the closing time only differs in the final minute of the day.
	almost := New([]Rule{{GroupID: 1, Weekday: Wednesday, Ranges: []Range{{Start: 0, End: MustClock("23:59")}}}})
	a, b := at("2025-01-01T10:00:00Z"), at("2025-01-01T23:00:00Z")
	if got, want := almost.WorkingSecondsBetween(a, b, 1), implicit.WorkingSecondsBetween(a, b, 1); got != want {
		t.Errorf("23:59 close: expected %d, got %d", want, got)
	}
}

func TestWorkingTime_MidnightSplit(t *testing.T) {
	// Wednesday 12:00 -> Thursday 12:00 with 09:00-18:00 on both days:
	// Wed 12:00-18:00 (6h) + Thu 09:00-12:00 (3h).
	cal := New(officeHours(2, Wednesday, Thursday))
	got := cal.WorkingSecondsBetween(at("2025-01-01T12:00:00Z"), at("2025-01-02T12:00:00Z"), 2)
	if want := int64(9 * 3600); got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestWorkingTime_FridayIntoClosedWeekend(t *testing.T) {
	rules := officeHours(2, Monday, Tuesday, Wednesday, Thursday, Friday)
	rules = append(rules,
		Rule{GroupID: 2, Weekday: Saturday, Ranges: []Range{}},
		Rule{GroupID: 2, Weekday: Sunday, Ranges: nil},
	)
	cal := New(rules)

	// 2025-01-03 is a Friday.
	got := cal.WorkingSecondsBetween(at("2025-01-03T17:00:00Z"), at("2025-01-04T12:00:00Z"), 2)
	if got != 3600 {
		t.Errorf("expected 3600, got %d", got)
	}

	// Only group 2 is restricted; other groups stay 24/7.
	if got := cal.WorkingSecondsBetween(at("2025-01-03T17:00:00Z"), at("2025-01-04T12:00:00Z"), 3); got != 19*3600 {
		t.Errorf("group without rules: expected %d, got %d", 19*3600, got)
	}
}

func TestWorkingTime_DayOff(t *testing.T) {
	rules := []Rule{
		{GroupID: 5, Weekday: Saturday, Ranges: []Range{}},
		{GroupID: 5, Weekday: Friday, Ranges: []Range{{Start: MustClock("08:00"), End: MustClock("20:00")}}},
	}
	cal := New(rules)
	got := cal.WorkingSecondsBetween(at("2025-01-04T00:00:00Z"), at("2025-01-04T23:59:59Z"), 5)
	if got != 0 {
		t.Errorf("expected 0 on a day off, got %d", got)
	}
}

func TestWorkingTime_MultipleRangesPerDay(t *testing.T) {
	cal := New([]Rule{{
		GroupID: 1,
		Weekday: Monday,
		Ranges: []Range{
			{Start: MustClock("14:00"), End: MustClock("18:00")},
			{Start: MustClock("09:00"), End: MustClock("13:00")},
		},
	}})

	// 2025-01-06 Monday, 10:00-15:00 -> 3h morning + 1h afternoon.
	got := cal.WorkingSecondsBetween(at("2025-01-06T10:00:00Z"), at("2025-01-06T15:00:00Z"), 1)
	if got != 4*3600 {
		t.Errorf("expected %d, got %d", 4*3600, got)
	}
}

func TestWorkingTime_InvertedRangeContributesNothing(t *testing.T) {
	cal := New([]Rule{{GroupID: 1, Weekday: Monday, Ranges: []Range{{Start: MustClock("18:00"), End: MustClock("09:00")}}}})
	if got := cal.WorkingSecondsBetween(at("2025-01-06T00:00:00Z"), at("2025-01-07T00:00:00Z"), 1); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestWorkingTime_Location(t *testing.T) {
	kyiv := time.FixedZone("UTC+2", 2*3600)
	cal := New(officeHours(2, Monday), WithLocation(kyiv))

	// 09:00-18:00 local is 07:00-16:00 UTC.
	got := cal.WorkingSecondsBetween(at("2025-01-06T06:00:00Z"), at("2025-01-06T08:00:00Z"), 2)
	if got != 3600 {
		t.Errorf("expected 3600, got %d", got)
	}
}

func TestWorkingTime_DSTDay(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cal := New(nil, WithLocation(berlin))

	// 2025-03-30 has 23 hours in Berlin.
	start := time.Date(2025, 3, 30, 0, 0, 0, 0, berlin)
	end := time.Date(2025, 3, 31, 0, 0, 0, 0, berlin)
	if got := cal.WorkingSecondsBetween(start, end, 1); got != 23*3600 {
		t.Errorf("expected %d, got %d", 23*3600, got)
	}
}

func TestRule_MarshalKeepsEmptyRanges(t *testing.T) {
	b, err := json.Marshal(Rule{GroupID: 1, Weekday: Sunday})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"group_id":1,"weekday":6,"ranges":[]}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}

	var back Rule
	if err := json.Unmarshal([]byte(`{"group_id":1,"weekday":0,"ranges":[{"start":"09:00","end":"18:00"}]}`), &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Ranges) != 1 || back.Ranges[0].End != MustClock("18:00") {
		t.Errorf("unexpected ranges: %+v", back.Ranges)
	}
}
