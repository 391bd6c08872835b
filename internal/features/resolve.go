package features

import (
	"fmt"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// Resolution is the outcome of mapping a requested date onto available data.
type Resolution struct {
	Requested time.Time
	Resolved  time.Time
	Snapped   bool
}

// ResolveTargetDate applies the configured resolve mode to the dates in the
// store. Resolving an already resolved date returns it unchanged.
func (e *Engine) ResolveTargetDate(requested time.Time) (Resolution, error) {
	requested = domain.Day(requested)
	dates, err := e.store.AvailableDates()
	if err != nil {
		return Resolution{}, err
	}
	resolved, err := LatestOnOrBefore(dates, requested)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Requested: requested, Resolved: resolved, Snapped: !resolved.Equal(requested)}
	if e.cfg.Mode == Strict && res.Snapped {
		return res, fmt.Errorf("%s (nearest is %s): %w",
			requested.Format(domain.LayoutISO), resolved.Format(domain.LayoutISO), domain.ErrDateNotAvailable)
	}
	return res, nil
}

// LatestOnOrBefore picks the latest date on or before requested, or the
// earliest date when requested precedes them all. dates must be sorted ascending.
func LatestOnOrBefore(dates []time.Time, requested time.Time) (time.Time, error) {
	if len(dates) == 0 {
		return time.Time{}, domain.ErrNoDataAvailable
	}
	if requested.Before(dates[0]) {
		return dates[0], nil
	}
	best := dates[0]
	for _, d := range dates {
		if d.After(requested) {
			break
		}
		best = d
	}
	return best, nil
}

// CollectWindow returns exactly size consecutive days ending at target,
// oldest first, each with its resolved raster path or none.
func (e *Engine) CollectWindow(target time.Time, size int) []domain.WindowDay {
	days := domain.DateRange(domain.Day(target), size)
	out := make([]domain.WindowDay, len(days))
	for i, d := range days {
		out[i] = domain.WindowDay{Date: d, Path: e.store.ResolvePath(d)}
	}
	return out
}
