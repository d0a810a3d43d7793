package ledger

import (
	"time"

	"github.com/VitalCareHQ/VitalCare/app/models"
)

// windowFor computes the usage window containing the given instant for an
// interval anchored at the subscription's billing anchor. Daily and weekly
// windows are fixed-length steps from the anchor; monthly windows follow
// calendar months so they line up with billing periods.
func windowFor(anchor time.Time, interval string, at time.Time) (time.Time, time.Time) {
	if at.Before(anchor) {
		at = anchor
	}
	switch interval {
	case models.PrivilegeIntervalDaily:
		return steppedWindow(anchor, 24*time.Hour, at)
	case models.PrivilegeIntervalWeekly:
		return steppedWindow(anchor, 7*24*time.Hour, at)
	default:
		return monthlyWindow(anchor, at)
	}
}

func steppedWindow(anchor time.Time, step time.Duration, at time.Time) (time.Time, time.Time) {
	n := at.Sub(anchor) / step
	start := anchor.Add(n * step)
	return start, start.Add(step)
}

func monthlyWindow(anchor time.Time, at time.Time) (time.Time, time.Time) {
	start := anchor
	for {
		next := start.AddDate(0, 1, 0)
		if next.After(at) {
			return start, next
		}
		start = next
	}
}
