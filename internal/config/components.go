package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/rainfall-grid-etl/internal/features"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rastersync"
	"github.com/couchcryptid/rainfall-grid-etl/internal/static"
)

// Sync derives the synchronizer configuration.
func (c *Config) Sync() rastersync.Config {
	return rastersync.Config{
		BaseURL:               c.PrismBaseURL,
		Variable:              c.PrismVariable,
		Timescale:             c.PrismTimescale,
		Prefix:                c.PrismPrefix,
		StartOffsetDays:       c.SyncStartOffset,
		EndOffsetDays:         c.SyncEndOffset,
		RetentionDays:         c.RetentionDays,
		CompareFields:         c.CompareFields,
		HeadTimeout:           c.HeadTimeout,
		GetTimeout:            c.GetTimeout,
		MaxAttempts:           c.FetchAttempts,
		Backoff:               c.FetchBackoff,
		Extract:               c.Extract,
		DeleteZipAfterExtract: c.DeleteZip,
		VerifyRaster:          c.VerifyRaster,
		Workers:               c.SyncWorkers,
	}
}

// StaticOptions derives the static index load options.
func (c *Config) StaticOptions(logger *slog.Logger) static.LoadOptions {
	return static.LoadOptions{
		Columns: static.Columns{
			X:         c.StaticColX,
			Y:         c.StaticColY,
			Elevation: c.StaticColElev,
			Slope:     c.StaticColSlope,
			SoilDepth: c.StaticColSoil,
		},
		EPSG:      c.StaticEPSG,
		Precision: c.StaticPrecision,
		Logger:    logger,
	}
}

// Features derives the feature engine configuration, loading the region
// polygon and static table when they are configured.
func (c *Config) Features(ctx context.Context, logger *slog.Logger) (features.Config, error) {
	fc := features.Config{
		WindowDays:        c.WindowDays,
		FallbackEPSG:      c.FallbackEPSG,
		DeepSoilThreshold: c.DeepSoilThreshold,
		Mode:              features.Snap,
	}
	if c.StrictDates {
		fc.Mode = features.Strict
	}

	if c.RegionFile != "" {
		region, err := geo.LoadRegion(c.RegionFile, c.RegionProperty, c.RegionValue)
		if err != nil {
			return fc, fmt.Errorf("REGION_FILE: %w", err)
		}
		fc.Region = region
	}
	if c.StaticFile != "" {
		ix, err := static.Load(ctx, c.StaticFile, c.StaticOptions(logger))
		if err != nil {
			return fc, fmt.Errorf("STATIC_FILE: %w", err)
		}
		fc.Static = ix
	}
	return fc, nil
}
