package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Extractor builds the unscored feature set for a requested date.
type Extractor interface {
	Extract(ctx context.Context, requested time.Time) (*domain.FeatureSet, error)
}

// Scorer adds model probabilities to a feature set.
type Scorer interface {
	Apply(ctx context.Context, set *domain.FeatureSet) error
}

// Writer writes output files for a scored set into dir and returns their names.
type Writer interface {
	WriteFiles(ctx context.Context, dir string, set *domain.FeatureSet) ([]string, error)
}

// Publisher announces or ships a finished output directory.
type Publisher interface {
	Publish(ctx context.Context, dir string, manifest domain.Manifest) error
}

// Options configures a Pipeline.
type Options struct {
	OutputDir  string
	Workers    int
	Writers    []Writer    // run in order; all must succeed before the output becomes visible
	Publishers []Publisher // run in order after the output is in place
	Clock      clockwork.Clock
}

// Pipeline orchestrates extract, score, write, and publish per target date.
type Pipeline struct {
	extractor Extractor
	scorer    Scorer
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, s Scorer, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		extractor: e,
		scorer:    s,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once any target date has been written,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not written any feature output yet")
	}
	return nil
}

// DateResult is the outcome of one target date.
type DateResult struct {
	Requested time.Time
	Resolved  time.Time
	Dir       string
	Manifest  *domain.Manifest
	Err       error
}

// Stage returns the failing stage, or "" on success.
func (r DateResult) Stage() domain.Stage { return domain.StageOf(r.Err) }

// Report collects the outcome of a batch, in request order.
type Report struct {
	Results []DateResult
}

// Succeeded counts dates that were written.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts dates that stopped at some stage.
func (r Report) Failed() int { return len(r.Results) - r.Succeeded() }

// Err joins every per-date failure, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// Run processes dates on a worker pool. A failing date is recorded and never
// stops its siblings.
func (p *Pipeline) Run(ctx context.Context, dates []time.Time) Report {
	p.logger.Info("pipeline started", "dates", len(dates), "workers", p.opts.Workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	pool := pond.NewResultPool[DateResult](p.opts.Workers)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, d := range dates {
		group.Submit(func() DateResult {
			if err := ctx.Err(); err != nil {
				// Never started, so no stage failed.
				p.metrics.FeatureDates.WithLabelValues("cancelled").Inc()
				return DateResult{Requested: domain.Day(d), Err: fmt.Errorf("%s: skipped: %w", domain.Day(d).Format(domain.LayoutISO), err)}
			}
			return p.Process(ctx, d)
		})
	}
	results, err := group.Wait()
	if err != nil {
		p.logger.Error("feature worker pool", "error", err)
	}

	report := Report{Results: results}
	p.logger.Info("pipeline finished", "succeeded", report.Succeeded(), "failed", report.Failed())
	return report
}

// Process runs every stage for one requested date. Output becomes visible
// only after extraction, scoring, and every writer succeed.
func (p *Pipeline) Process(ctx context.Context, requested time.Time) DateResult {
	requested = domain.Day(requested)
	start := p.opts.Clock.Now()
	res := DateResult{Requested: requested}
	log := p.logger.With("date", requested.Format(domain.LayoutISO))

	res.Err = p.process(ctx, requested, &res)
	if res.Err != nil {
		stage := domain.StageOf(res.Err)
		p.metrics.FeatureDates.WithLabelValues("failed").Inc()
		p.metrics.StageFailures.WithLabelValues(string(stage)).Inc()
		log.Error("feature date failed", "stage", stage, "error", res.Err)
		return res
	}

	p.metrics.FeatureDates.WithLabelValues("ok").Inc()
	p.metrics.FeatureDuration.Observe(p.opts.Clock.Since(start).Seconds())
	p.metrics.LastSuccess.Set(float64(p.opts.Clock.Now().Unix()))
	p.ready.Store(true)
	log.Info("feature date written",
		"rainfall_through", res.Manifest.RainfallThrough,
		"snapped", res.Manifest.Snapped,
		"rows", res.Manifest.Rows,
		"dir", res.Dir,
	)
	return res
}

func (p *Pipeline) process(ctx context.Context, requested time.Time, res *DateResult) error {
	set, err := p.extractor.Extract(ctx, requested)
	if err != nil {
		return domain.WrapStage(requested, domain.StageResolve, err)
	}
	res.Resolved = set.Resolved
	p.metrics.MissingDays.Add(float64(set.MissingDays))
	p.metrics.UnreadableDays.Add(float64(set.UnreadableDays))
	p.metrics.StaticJoinMisses.Add(float64(set.StaticMisses))

	if p.scorer != nil {
		if err := p.scorer.Apply(ctx, set); err != nil {
			return domain.WrapStage(requested, domain.StageScore, err)
		}
	}

	manifest := domain.NewManifest(set, p.opts.Clock.Now())
	dir, err := p.emit(ctx, set, &manifest)
	if err != nil {
		return domain.WrapStage(requested, domain.StageEmit, err)
	}
	res.Dir = dir
	res.Manifest = &manifest
	p.metrics.FeatureRows.Add(float64(len(set.Rows)))

	for _, pub := range p.opts.Publishers {
		if err := pub.Publish(ctx, dir, manifest); err != nil {
			return domain.WrapStage(requested, domain.StagePublish, fmt.Errorf("%T: %w", pub, err))
		}
	}
	return nil
}
