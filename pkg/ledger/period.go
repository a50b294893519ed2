package ledger

import "time"

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// CurrentPeriod returns the billing period containing now. Periods begin on
// resetDay of each month, clamped to the month's last day, so resetDay 31
// starts February's period on the 28th or 29th. Dates before this month's
// reset day belong to the period that began the previous month, rather than
// to a window anchored on this month's reset day that has not started yet. A
// resetDay below 1 means 1. All boundaries are midnight UTC.
func CurrentPeriod(now time.Time, resetDay int) Period {
	if resetDay < 1 {
		resetDay = 1
	}
	now = now.UTC()
	y, m, _ := now.Date()

	start := boundary(y, m, resetDay)
	if now.Before(start) {
		start = boundary(y, m-1, resetDay)
	}
	sy, sm, _ := start.Date()
	return Period{Start: start, End: boundary(sy, sm+1, resetDay)}
}

// boundary returns midnight UTC of day in the given month, clamped to the
// month length. Month overflow is normalised by time.Date.
func boundary(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}
