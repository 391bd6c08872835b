// Package rastersync keeps the local raster cache in step with the remote
// archive. A HEAD probe per date decides whether the archive must be fetched;
// downloads retry with linear backoff and land atomically; old dates are
// pruned by retention.
package rastersync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/observability"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rainstore"
	"github.com/jonboulle/clockwork"
)

// Outcome is the per-date result class of a sync.
type Outcome string

const (
	OutcomeUpdated            Outcome = "updated"
	OutcomeUnchanged          Outcome = "unchanged"
	OutcomeSkipped            Outcome = "skipped"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeFailed             Outcome = "failed"
)

// DayResult reports what SyncDay did for one date.
type DayResult struct {
	Date       time.Time
	Outcome    Outcome
	Extracted  bool
	ZipRemoved bool
	Err        error
}

// Synchronizer syncs dated archives from a Remote into a rainstore.Store.
type Synchronizer struct {
	cfg     Config
	store   *rainstore.Store
	remote  Remote
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	locks   *dateLocks
}

// New validates cfg and returns a Synchronizer. A nil clock uses real time.
func New(cfg Config, store *rainstore.Store, remote Remote, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sync config: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		cfg:     cfg,
		store:   store,
		remote:  remote,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		locks:   newDateLocks(),
	}, nil
}

// Config returns the synchronizer configuration.
func (s *Synchronizer) Config() Config { return s.cfg }

// CheckRemote probes the archive for day. A missing archive returns
// domain.ErrRemoteNotFound.
func (s *Synchronizer) CheckRemote(ctx context.Context, day time.Time) (*domain.Fingerprint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HeadTimeout)
	defer cancel()

	fp, err := s.remote.Head(ctx, s.cfg.URL(day))
	switch {
	case err == nil:
		s.metrics.RemoteChecks.WithLabelValues("found").Inc()
	case errors.Is(err, domain.ErrRemoteNotFound):
		s.metrics.RemoteChecks.WithLabelValues("not_found").Inc()
	default:
		s.metrics.RemoteChecks.WithLabelValues("error").Inc()
	}
	return fp, err
}

// NeedsUpdate reports whether the local copy must be replaced. A nil remote
// (not published) never needs an update; a nil local always does. Otherwise
// any listed field that differs exactly triggers an update.
func NeedsUpdate(local, remote *domain.Fingerprint, fields []string) bool {
	if remote == nil {
		return false
	}
	if local == nil {
		return true
	}
	for _, name := range fields {
		lv, _ := local.Field(name)
		rv, _ := remote.Field(name)
		if lv != rv {
			return true
		}
	}
	return false
}

// SyncDay brings one date up to date. The whole sequence runs under the
// date's lock so concurrent callers never interleave on the same files.
func (s *Synchronizer) SyncDay(ctx context.Context, day time.Time) DayResult {
	day = domain.Day(day)
	unlock := s.locks.lock(day)
	defer unlock()

	res := s.syncDay(ctx, day)
	s.metrics.SyncDates.WithLabelValues(string(res.Outcome)).Inc()

	log := s.logger.With("date", day.Format(domain.LayoutISO), "outcome", string(res.Outcome))
	switch res.Outcome {
	case OutcomeFailed, OutcomeVerificationFailed:
		log.Error("sync failed", "error", res.Err)
	case OutcomeSkipped:
		log.Debug("remote raster not published")
	default:
		log.Info("date synced", "extracted", res.Extracted, "zip_removed", res.ZipRemoved)
	}
	return res
}

func (s *Synchronizer) syncDay(ctx context.Context, day time.Time) DayResult {
	res := DayResult{Date: day}
	fail := func(err error) DayResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	remote, err := s.CheckRemote(ctx, day)
	if errors.Is(err, domain.ErrRemoteNotFound) {
		res.Outcome = OutcomeSkipped
		return res
	}
	if err != nil {
		return fail(fmt.Errorf("check remote: %w", err))
	}

	local := s.localFingerprint(day)
	updated := NeedsUpdate(local, remote, s.cfg.CompareFields)
	if updated {
		if err := s.store.RemoveDay(day); err != nil {
			return fail(fmt.Errorf("remove stale files: %w", err))
		}
		if err := s.download(ctx, day, remote); err != nil {
			return fail(err)
		}
		res.Outcome = OutcomeUpdated
	} else {
		res.Outcome = OutcomeUnchanged
	}

	if !s.cfg.Extract {
		return res
	}

	zipPath := s.store.ZipPath(day)
	if exists(s.store.RasterPath(day)) {
		// Decoded raster already present: drop the archive only when it was
		// not just replaced.
		if s.cfg.DeleteZipAfterExtract && !updated && exists(zipPath) {
			if err := os.Remove(zipPath); err != nil {
				return fail(fmt.Errorf("remove archive: %w", err))
			}
			res.ZipRemoved = true
		}
		return res
	}

	if !exists(zipPath) {
		if err := s.download(ctx, day, remote); err != nil {
			return fail(err)
		}
	}
	if err := extractArchive(zipPath, s.store.FolderPath(day)); err != nil {
		return fail(fmt.Errorf("extract: %w", err))
	}
	res.Extracted = true

	if s.cfg.VerifyRaster && !exists(s.store.RasterPath(day)) {
		res.Outcome = OutcomeVerificationFailed
		res.Err = fmt.Errorf("%w: %s", domain.ErrVerificationFailure, s.store.RasterPath(day))
		return res
	}
	if s.cfg.DeleteZipAfterExtract {
		if err := os.Remove(zipPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("remove archive: %w", err))
		}
		res.ZipRemoved = true
	}
	return res
}

// localFingerprint returns the trusted sidecar fingerprint, or nil when
// there is none. A sidecar that cannot be decoded is not trusted.
func (s *Synchronizer) localFingerprint(day time.Time) *domain.Fingerprint {
	meta, err := s.store.LoadMeta(day)
	if err != nil {
		s.logger.Warn("ignoring unreadable sidecar", "date", day.Format(domain.LayoutISO), "error", err)
		return nil
	}
	if meta == nil {
		return nil
	}
	return &meta.Fingerprint
}

// download fetches the archive and then writes the sidecar, so a sidecar
// exists only for a completely downloaded archive.
func (s *Synchronizer) download(ctx context.Context, day time.Time, remote *domain.Fingerprint) error {
	start := s.clock.Now()
	url := s.cfg.URL(day)
	err := FetchWithRetry(ctx, s.remote, url, s.store.ZipPath(day), s.cfg.GetTimeout, s.cfg.MaxAttempts, s.cfg.Backoff,
		func(attempt int, err error, wait time.Duration) {
			s.metrics.FetchAttempts.WithLabelValues("retry").Inc()
			s.logger.Warn("fetch attempt failed, retrying",
				"date", day.Format(domain.LayoutISO),
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		})
	if err != nil {
		s.metrics.FetchAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	s.metrics.FetchAttempts.WithLabelValues("success").Inc()
	s.metrics.FetchDuration.Observe(s.clock.Since(start).Seconds())

	meta := domain.SidecarMeta{
		Fingerprint: *remote,
		SyncedUTC:   s.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.SaveMeta(day, meta); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
