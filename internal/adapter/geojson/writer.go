// Package geojson exports scored cells as a GeoJSON FeatureCollection of
// WGS84 points.
package geojson

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FileName is the export name for a target date.
func FileName(target time.Time) string {
	return "features_" + target.Format(domain.LayoutISO) + ".geojson"
}

// Writer writes the GeoJSON export.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// WriteFiles writes features_<date>.geojson into dir. Missing values are
// omitted from a feature's properties.
func (w *Writer) WriteFiles(ctx context.Context, dir string, set *domain.FeatureSet) ([]string, error) {
	fc, err := Build(ctx, set)
	if err != nil {
		return nil, err
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	name := FileName(set.Requested)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	w.logger.Debug("geojson written", "file", name, "features", len(fc.Features))
	return []string{name}, nil
}

// Build converts a scored set to a FeatureCollection. Cell centers are
// projected from the set's CRS to EPSG:4326.
func Build(ctx context.Context, set *domain.FeatureSet) (*geojson.FeatureCollection, error) {
	tr, err := geo.NewTransformer(set.EPSG, geo.EPSGWGS84)
	if err != nil {
		return nil, fmt.Errorf("project cells to WGS84: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"target_date":      set.Requested.Format(domain.LayoutISO),
		"rainfall_through": set.Resolved.Format(domain.LayoutISO),
	}
	for i, r := range set.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		lon, lat := tr.Transform(r.X, r.Y)
		f := geojson.NewFeature(orb.Point{lon, lat})
		f.Properties["row"] = r.Row
		f.Properties["col"] = r.Col
		for _, name := range domain.RainfallFeatures {
			v, _ := r.Feature(name)
			setNumber(f.Properties, name, v)
		}
		for _, name := range domain.StaticFeatures {
			v, _ := r.Feature(name)
			setNumber(f.Properties, name, v)
		}
		for _, m := range set.Models {
			if p, ok := r.Probabilities[m]; ok {
				setNumber(f.Properties, domain.ProbabilityColumn(m), p)
			}
		}
		fc.Append(f)
	}
	return fc, nil
}

// JSON has no NaN.
func setNumber(props geojson.Properties, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	props[key] = v
}
