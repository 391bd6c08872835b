package rastersync

import (
	"os"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// PruneResult tallies a retention pass.
type PruneResult struct {
	Removed []string
	Errors  []error
}

// Prune removes every cache entry dated outside [today-retentionDays, today].
// That covers expired days as well as future-dated ones left by clock skew or
// hand-staged files. A failed removal is logged and counted; the pass
// continues.
func (s *Synchronizer) Prune(today time.Time, retentionDays int) PruneResult {
	var res PruneResult
	today = domain.Day(today)
	cutoff := domain.AddDays(today, -retentionDays)

	entries, err := s.store.Entries()
	if err != nil {
		s.logger.Error("prune: list cache", "error", err)
		s.metrics.PruneErrors.Inc()
		res.Errors = append(res.Errors, err)
		return res
	}

	for _, e := range entries {
		if !e.Date.Before(cutoff) && !e.Date.After(today) {
			continue
		}
		unlock := s.locks.lock(e.Date)
		err := os.RemoveAll(e.Path)
		unlock()
		if err != nil {
			s.logger.Warn("prune: remove entry", "path", e.Path, "error", err)
			s.metrics.PruneErrors.Inc()
			res.Errors = append(res.Errors, err)
			continue
		}
		s.metrics.PrunedEntries.Inc()
		res.Removed = append(res.Removed, e.Name)
	}

	if len(res.Removed) > 0 {
		s.logger.Info("pruned cache", "cutoff", cutoff.Format(domain.LayoutISO), "removed", len(res.Removed))
	}
	return res
}
