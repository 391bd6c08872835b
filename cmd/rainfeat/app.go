package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/geojson"
	kafkaadapter "github.com/couchcryptid/rainfall-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/parquet"
	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/prism"
	s3adapter "github.com/couchcryptid/rainfall-grid-etl/internal/adapter/s3"
	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/scorer"
	"github.com/couchcryptid/rainfall-grid-etl/internal/config"
	"github.com/couchcryptid/rainfall-grid-etl/internal/features"
	"github.com/couchcryptid/rainfall-grid-etl/internal/observability"
	"github.com/couchcryptid/rainfall-grid-etl/internal/pipeline"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rainstore"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rastersync"
	"github.com/couchcryptid/rainfall-grid-etl/internal/scoring"
	"github.com/jonboulle/clockwork"
)

// app holds the wired components shared by the subcommands. Heavy pieces
// are built on first use so `sync` never loads the static table.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	store   *rainstore.Store

	closers []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		clock:   clockwork.NewRealClock(),
		store:   rainstore.New(cfg.RainDir, cfg.PrismPrefix),
	}
}

func (a *app) synchronizer() (*rastersync.Synchronizer, error) {
	sc := a.cfg.Sync()
	remote := prism.NewClient(sc.GetTimeout, a.logger.With("component", "prism"))
	return rastersync.New(sc, a.store, remote, a.clock, a.logger.With("component", "sync"), a.metrics)
}

func (a *app) engine(ctx context.Context) (*features.Engine, error) {
	fc, err := a.cfg.Features(ctx, a.logger)
	if err != nil {
		return nil, err
	}
	return features.New(a.store, fc, a.logger.With("component", "features")), nil
}

func (a *app) registry() (*scoring.Registry, error) {
	builders := map[string]scoring.Builder{
		"http": scorer.Builder(a.logger.With("component", "scorer")),
	}
	reg, err := scoring.Load(a.cfg.ModelsFile, builders)
	if err != nil {
		return nil, fmt.Errorf("MODELS_FILE: %w", err)
	}
	a.logger.Info("model registry loaded", "path", a.cfg.ModelsFile, "models", reg.Names())
	return reg, nil
}

// pipeline wires extraction, scoring, the file writers, and whichever
// publishers are configured.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	engine, err := a.engine(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		OutputDir: a.cfg.OutputDir,
		Workers:   a.cfg.FeatureWorkers,
		Writers:   []pipeline.Writer{parquet.NewWriter(a.logger.With("component", "parquet"))},
		Clock:     a.clock,
	}
	if a.cfg.GeoJSONExport {
		opts.Writers = append(opts.Writers, geojson.NewWriter(a.logger.With("component", "geojson")))
	}

	if a.cfg.S3Bucket != "" {
		client, err := s3adapter.NewClient(ctx, s3adapter.Config{
			Bucket:   a.cfg.S3Bucket,
			Prefix:   a.cfg.S3Prefix,
			Region:   a.cfg.S3Region,
			Endpoint: a.cfg.S3Endpoint,

			AccessKeyID:     a.cfg.S3AccessKey,
			SecretAccessKey: a.cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		opts.Publishers = append(opts.Publishers,
			s3adapter.NewUploader(client, a.cfg.S3Bucket, a.cfg.S3Prefix, a.logger.With("component", "s3")))
	}
	if a.cfg.KafkaTopic != "" {
		n := kafkaadapter.NewNotifier(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger.With("component", "kafka"))
		a.closers = append(a.closers, n.Close)
		opts.Publishers = append(opts.Publishers, n)
	}

	return pipeline.New(engine, reg, opts, a.logger, a.metrics), nil
}

func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
