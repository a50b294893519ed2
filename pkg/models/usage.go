package models

import "time"

// UsagePeriod is one billing window of the secondary engine and how many
// calls were counted against it.
type UsagePeriod struct {
	Start     time.Time `json:"period_start"`
	End       time.Time `json:"period_end"`
	UsedCount int64     `json:"used_count"`
}

// Contains reports whether t falls in [Start, End).
func (p UsagePeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// UsageStatus shows current usage against the hard limit.
type UsageStatus struct {
	Period    UsagePeriod `json:"period"`
	Limit     int64       `json:"limit"`
	Remaining int64       `json:"remaining"`
}
