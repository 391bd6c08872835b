// Package features turns a trailing window of daily rainfall rasters into
// per-cell rainfall aggregates joined with static terrain attributes.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rainstore"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	"github.com/couchcryptid/rainfall-grid-etl/internal/static"
)

// ResolveMode selects how a requested date maps onto available data.
type ResolveMode int

const (
	// Snap uses the latest available date on or before the request, or the
	// earliest available date when the request precedes all data.
	Snap ResolveMode = iota
	// Strict fails unless the requested date itself is available.
	Strict
)

// Defaults.
const (
	DefaultWindowDays        = 30
	DefaultFallbackEPSG      = geo.EPSGNAD83
	DefaultDeepSoilThreshold = 200.0
)

// Config is passed explicitly at construction.
type Config struct {
	WindowDays        int
	FallbackEPSG      int // CRS assumed for rasters that declare none
	DeepSoilThreshold float64 // taken as given, 0 included
	Mode              ResolveMode

	// Region limits the output to cells whose centers fall inside it. Nil
	// selects every cell of the reference grid.
	Region *geo.Region
	// Static supplies terrain attributes. Nil leaves them missing.
	Static *static.Index
}

func (c Config) withDefaults() Config {
	if c.WindowDays <= 0 {
		c.WindowDays = DefaultWindowDays
	}
	if c.FallbackEPSG == 0 {
		c.FallbackEPSG = DefaultFallbackEPSG
	}
	return c
}

// Engine computes feature sets from a local raster store. It is safe for
// concurrent use across dates.
type Engine struct {
	store  *rainstore.Store
	cfg    Config
	logger *slog.Logger

	maskMu sync.Mutex
	masks  map[raster.Grid]*geo.Mask
}

// New creates an Engine.
func New(store *rainstore.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		masks:  make(map[raster.Grid]*geo.Mask),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Extract runs resolve, collect, reference, sample, aggregate, and join for
// one requested date. Failures are returned as *domain.StageError.
func (e *Engine) Extract(ctx context.Context, requested time.Time) (*domain.FeatureSet, error) {
	requested = domain.Day(requested)

	res, err := e.ResolveTargetDate(requested)
	if err != nil {
		return nil, domain.WrapStage(requested, domain.StageResolve, err)
	}

	window := e.CollectWindow(res.Resolved, e.cfg.WindowDays)
	if len(window) == 0 {
		return nil, domain.WrapStage(requested, domain.StageCollect, fmt.Errorf("empty window of %d days", e.cfg.WindowDays))
	}

	ref, mask, err := e.BuildReferenceAndMask(window)
	if err != nil {
		return nil, domain.WrapStage(requested, domain.StageReference, err)
	}
	coords := ReferenceCoords(ref, mask)

	stack, err := e.SampleWindow(ctx, window, ref, coords)
	if err != nil {
		return nil, domain.WrapStage(requested, domain.StageSample, err)
	}

	agg, err := Aggregate(stack)
	if err != nil {
		return nil, domain.WrapStage(requested, domain.StageAggregate, err)
	}

	attrs, err := e.SampleStaticAttributes(ref, coords)
	if err != nil {
		return nil, domain.WrapStage(requested, domain.StageJoin, err)
	}

	set := &domain.FeatureSet{
		Requested:      requested,
		Resolved:       res.Resolved,
		Snapped:        res.Snapped,
		WindowStart:    window[0].Date,
		AvailableDays:  stack.Available(),
		MissingDays:    stack.Missing,
		UnreadableDays: stack.Unreadable,
		EPSG:           ref.EPSG,
		StaticMisses:   attrs.Misses,
		Rows:           BuildFeatureTable(coords, agg, attrs),
	}

	e.logger.Info("features extracted",
		"date", requested.Format(domain.LayoutISO),
		"rainfall_through", res.Resolved.Format(domain.LayoutISO),
		"snapped", res.Snapped,
		"rows", len(set.Rows),
		"missing_days", stack.Missing,
		"unreadable_days", stack.Unreadable,
		"static_misses", attrs.Misses,
	)
	return set, nil
}
