package chain

import (
	"sort"
	"time"

	"nifty-strangler/internal/errors"
	"nifty-strangler/pkg/utils"
)

// DTE is the number of calendar days from today to expiry.
func DTE(today, expiry time.Time) int {
	return utils.DaysBetween(today, expiry)
}

// TargetExpiry picks the nearest live expiry when it is within targetDTE days,
// otherwise the one after it. This avoids rolling to the next series a day early.
func TargetExpiry(expiries []time.Time, today time.Time, targetDTE int) (time.Time, error) {
	live := make([]time.Time, 0, len(expiries))
	for _, e := range expiries {
		if DTE(today, e) >= 0 {
			live = append(live, utils.SessionDate(e))
		}
	}
	if len(live) == 0 {
		return time.Time{}, errors.ErrNoExpiry
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Before(live[j]) })

	nearest := live[0]
	if DTE(today, nearest) <= targetDTE || len(live) == 1 {
		return nearest, nil
	}
	return live[1], nil
}

// IsMonthlyExpiry reports whether d is the month's last Tuesday, or the Monday
// before it when the Tuesday is a holiday.
func IsMonthlyExpiry(d time.Time) bool {
	d = utils.SessionDate(d)
	lastTuesday := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, d.Location())
	for lastTuesday.Weekday() != time.Tuesday {
		lastTuesday = lastTuesday.AddDate(0, 0, -1)
	}
	return d.Equal(lastTuesday) || d.Equal(lastTuesday.AddDate(0, 0, -1))
}
