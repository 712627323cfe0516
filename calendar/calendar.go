// Package calendar provides business-day arithmetic for turnaround and SLA
// computations. A business day is Monday through Friday; holiday calendars
// are deliberately not modelled in this phase.
package calendar

import "time"

// IsBusinessDay reports whether t falls on a weekday.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// AddBusinessDays returns the date that is n business days after start,
// skipping Saturdays and Sundays. n must be non-negative; n of zero returns
// start unchanged.
func AddBusinessDays(start time.Time, n int) time.Time {
	d := start
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			added++
		}
	}
	return d
}

// BusinessDaysBetween counts the business days elapsed from start to end,
// exclusive of start and inclusive of end. It returns 0 when end is on or
// before start.
func BusinessDaysBetween(start, end time.Time) int {
	start = truncateDay(start)
	end = truncateDay(end)
	if !end.After(start) {
		return 0
	}

	count := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			count++
		}
	}
	return count
}

// ExpectedTurnaround projects the SLA return date for a request created at
// created with the given turnaround allowance in business days.
func ExpectedTurnaround(created time.Time, turnaroundDays int) time.Time {
	return AddBusinessDays(created, turnaroundDays)
}

// IsRush reports whether the requested return date lands before the
// SLA-projected turnaround date. Comparison is at day granularity.
func IsRush(targetReturn, expectedTurnaround time.Time) bool {
	return truncateDay(targetReturn).Before(truncateDay(expectedTurnaround))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
