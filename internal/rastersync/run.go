package rastersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// Summary tallies one batch run.
type Summary struct {
	Today   time.Time
	Results []DayResult // newest date first
	Prune   PruneResult
}

// Count returns how many dates ended with outcome o.
func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// Err joins every per-date failure and prune error. It is nil when the run
// had nothing to report.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Date.Format(domain.LayoutISO), r.Err))
		}
	}
	for _, err := range s.Prune.Errors {
		errs = append(errs, fmt.Errorf("prune: %w", err))
	}
	return errors.Join(errs...)
}

// Run syncs every date in the configured offset range on a worker pool, then
// prunes by retention. A failing date never stops its siblings.
func (s *Synchronizer) Run(ctx context.Context) Summary {
	today := domain.Today(s.clock)
	dates := s.cfg.Dates(today)
	s.logger.Info("sync started",
		"today", today.Format(domain.LayoutISO),
		"dates", len(dates),
		"workers", s.cfg.Workers,
	)

	pool := pond.NewResultPool[DayResult](s.cfg.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, day := range dates {
		group.Submit(func() DayResult {
			if err := ctx.Err(); err != nil {
				return DayResult{Date: day, Outcome: OutcomeFailed, Err: err}
			}
			return s.SyncDay(ctx, day)
		})
	}
	results, err := group.Wait()
	if err != nil {
		// Tasks never return errors; a non-nil err means a task panicked.
		s.logger.Error("sync worker pool", "error", err)
	}

	summary := Summary{Today: today, Results: results}
	summary.Prune = s.Prune(today, s.cfg.RetentionDays)

	s.logger.Info("sync finished",
		"updated", summary.Count(OutcomeUpdated),
		"unchanged", summary.Count(OutcomeUnchanged),
		"skipped", summary.Count(OutcomeSkipped),
		"verification_failed", summary.Count(OutcomeVerificationFailed),
		"failed", summary.Count(OutcomeFailed),
		"pruned", len(summary.Prune.Removed),
		"prune_errors", len(summary.Prune.Errors),
	)
	return summary
}
