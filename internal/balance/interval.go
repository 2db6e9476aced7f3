package balance

import (
	"strings"
	"time"
)

// Interval is the reset cadence of a grant. The empty value means lifetime.
type Interval string

const (
	IntervalLifetime   Interval = ""
	IntervalOneOff     Interval = "one_off"
	IntervalDay        Interval = "day"
	IntervalWeek       Interval = "week"
	IntervalMonth      Interval = "month"
	IntervalQuarter    Interval = "quarter"
	IntervalSemiAnnual Interval = "semi_annual"
	IntervalYear       Interval = "year"
)

func ParseInterval(value string) (Interval, bool) {
	switch Interval(strings.ToLower(strings.TrimSpace(value))) {
	case IntervalLifetime, "lifetime", "none":
		return IntervalLifetime, true
	case IntervalOneOff:
		return IntervalOneOff, true
	case IntervalDay:
		return IntervalDay, true
	case IntervalWeek:
		return IntervalWeek, true
	case IntervalMonth:
		return IntervalMonth, true
	case IntervalQuarter:
		return IntervalQuarter, true
	case IntervalSemiAnnual:
		return IntervalSemiAnnual, true
	case IntervalYear:
		return IntervalYear, true
	default:
		return "", false
	}
}

// Bounded reports whether balances of this interval are reset periodically.
func (i Interval) Bounded() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalQuarter, IntervalSemiAnnual, IntervalYear:
		return true
	default:
		return false
	}
}

// Add moves t forward by count intervals. Unbounded intervals return t unchanged.
func (i Interval) Add(t time.Time, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch i {
	case IntervalDay:
		return t.AddDate(0, 0, count)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*count)
	case IntervalMonth:
		return t.AddDate(0, count, 0)
	case IntervalQuarter:
		return t.AddDate(0, 3*count, 0)
	case IntervalSemiAnnual:
		return t.AddDate(0, 6*count, 0)
	case IntervalYear:
		return t.AddDate(count, 0, 0)
	default:
		return t
	}
}

// NextResetAfter advances from the scheduled boundary until it lies after now,
// so a late run does not shift the cycle anchor.
func (i Interval) NextResetAfter(scheduled time.Time, count int, now time.Time) time.Time {
	if !i.Bounded() {
		return scheduled
	}
	next := i.Add(scheduled, count)
	for !next.After(now) {
		next = i.Add(next, count)
	}
	return next
}
