package calendar

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddBusinessDays_MidWeek(t *testing.T) {
	// Monday + 3 business days lands on Thursday.
	mon := date(2024, time.June, 3)
	got := AddBusinessDays(mon, 3)
	want := date(2024, time.June, 6)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessDays_SkipsWeekend(t *testing.T) {
	// Thursday + 3 business days skips Sat/Sun and lands on Tuesday.
	thu := date(2024, time.June, 6)
	got := AddBusinessDays(thu, 3)
	want := date(2024, time.June, 11)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAddBusinessDays_Zero(t *testing.T) {
	sat := date(2024, time.June, 8)
	if got := AddBusinessDays(sat, 0); !got.Equal(sat) {
		t.Fatalf("expected start date back, got %v", got)
	}
}

func TestBusinessDaysBetween(t *testing.T) {
	cases := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"same day", date(2024, time.June, 3), date(2024, time.June, 3), 0},
		{"end before start", date(2024, time.June, 5), date(2024, time.June, 3), 0},
		{"mon to thu", date(2024, time.June, 3), date(2024, time.June, 6), 3},
		{"fri to mon", date(2024, time.June, 7), date(2024, time.June, 10), 1},
		{"across two weekends", date(2024, time.June, 3), date(2024, time.June, 17), 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BusinessDaysBetween(tc.start, tc.end); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestIsRush_Boundary(t *testing.T) {
	// turnaround of 3 from a Monday projects Thursday.
	created := date(2024, time.June, 3)
	expected := ExpectedTurnaround(created, 3)
	if want := date(2024, time.June, 6); !expected.Equal(want) {
		t.Fatalf("expected turnaround %v, got %v", want, expected)
	}

	if !IsRush(date(2024, time.June, 5), expected) {
		t.Errorf("Wednesday target before Thursday turnaround should be rush")
	}
	if IsRush(date(2024, time.June, 6), expected) {
		t.Errorf("Thursday target on turnaround day should not be rush")
	}
	if IsRush(date(2024, time.June, 7), expected) {
		t.Errorf("Friday target after turnaround should not be rush")
	}
}

func TestIsRush_IgnoresTimeOfDay(t *testing.T) {
	expected := time.Date(2024, time.June, 6, 9, 0, 0, 0, time.UTC)
	target := time.Date(2024, time.June, 6, 17, 30, 0, 0, time.UTC)
	if IsRush(target, expected) {
		t.Fatalf("same-day target later in the day should not be rush")
	}
}
