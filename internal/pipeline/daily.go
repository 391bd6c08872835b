package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// SyncFunc refreshes the raster cache before features run.
type SyncFunc func(ctx context.Context) error

// Daily runs sync then features for yesterday, at most once per calendar day.
// The last successful target date is kept in a marker file so restarts do
// not repeat finished work.
type Daily struct {
	sync     SyncFunc
	pipeline *Pipeline
	marker   string
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewDaily creates a Daily runner. marker is the path of the last-run file.
func NewDaily(sync SyncFunc, p *Pipeline, marker string, clock clockwork.Clock, logger *slog.Logger) *Daily {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Daily{sync: sync, pipeline: p, marker: marker, clock: clock, logger: logger}
}

// Target is the date a run produces: yesterday.
func (d *Daily) Target() time.Time {
	return domain.AddDays(domain.Today(d.clock), -1)
}

// RunOnce performs one cycle. It returns false without doing anything when
// the marker already names today's target. A sync failure is logged and the
// features still run against whatever the cache holds.
func (d *Daily) RunOnce(ctx context.Context) (bool, error) {
	target := d.Target()
	last, err := d.lastRun()
	if err != nil {
		d.logger.Warn("ignoring unreadable last-run marker", "path", d.marker, "error", err)
	}
	if !last.IsZero() && !last.Before(target) {
		d.logger.Debug("already ran for target date", "date", target.Format(domain.LayoutISO))
		return false, nil
	}

	if d.sync != nil {
		if err := d.sync(ctx); err != nil {
			d.logger.Warn("sync finished with failures", "error", err)
		}
	}

	report := d.pipeline.Run(ctx, []time.Time{target})
	if err := report.Err(); err != nil {
		return true, err
	}
	if err := d.markRun(target); err != nil {
		return true, err
	}
	return true, nil
}

// Loop calls RunOnce immediately and then every interval until ctx ends.
func (d *Daily) Loop(ctx context.Context, interval time.Duration) error {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("daily run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("daily loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (d *Daily) lastRun() (time.Time, error) {
	data, err := os.ReadFile(d.marker)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return domain.ParseDate(strings.TrimSpace(string(data)))
}

func (d *Daily) markRun(target time.Time) error {
	if err := os.MkdirAll(filepath.Dir(d.marker), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	if err := os.WriteFile(d.marker, []byte(target.Format(domain.LayoutISO)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write last-run marker: %w", err)
	}
	return nil
}
