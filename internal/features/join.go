package features

import (
	"fmt"
	"math"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/static"
)

// StaticAttributes are the joined terrain values per reference cell.
type StaticAttributes struct {
	Elevation []float64
	Slope     []float64
	SoilDepth []float64
	DeepSoil  []float64
	Misses    int
}

// SampleStaticAttributes looks up each cell center in the static index,
// projecting into the index CRS when it declares one. Misses yield NaN and
// are counted, never fatal.
func (e *Engine) SampleStaticAttributes(ref *Reference, coords Coords) (StaticAttributes, error) {
	n := coords.Len()
	out := StaticAttributes{
		Elevation: make([]float64, n),
		Slope:     make([]float64, n),
		SoilDepth: make([]float64, n),
		DeepSoil:  make([]float64, n),
	}
	ix := e.cfg.Static
	if ix == nil {
		for i := range n {
			out.Elevation[i], out.Slope[i], out.SoilDepth[i], out.DeepSoil[i] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		}
		return out, nil
	}

	xs, ys := coords.X, coords.Y
	if ix.EPSG() != 0 {
		tr, err := geo.NewTransformer(ref.EPSG, ix.EPSG())
		if err != nil {
			return out, fmt.Errorf("project into static CRS: %w", err)
		}
		if !tr.Identity() {
			xs, ys = tr.TransformAll(xs, ys)
		}
	}

	for i := range n {
		a, ok := ix.Lookup(xs[i], ys[i])
		if !ok {
			out.Misses++
			a = static.Missing()
		}
		out.Elevation[i] = a.Elevation
		out.Slope[i] = a.Slope
		out.SoilDepth[i] = a.SoilDepth
		out.DeepSoil[i] = DeepSoilFlag(a.SoilDepth, e.cfg.DeepSoilThreshold)
	}
	if out.Misses > 0 {
		e.logger.Warn("static attribute join misses", "misses", out.Misses, "cells", n)
	}
	return out, nil
}

// DeepSoilFlag is 1 when soil depth reaches threshold, 0 below it, and NaN
// when soil depth is missing.
func DeepSoilFlag(soil, threshold float64) float64 {
	switch {
	case math.IsNaN(soil):
		return math.NaN()
	case soil >= threshold:
		return 1
	default:
		return 0
	}
}

// BuildFeatureTable emits one row per in-mask cell in row-major order.
func BuildFeatureTable(coords Coords, agg Aggregates, attrs StaticAttributes) []domain.FeatureRow {
	rows := make([]domain.FeatureRow, coords.Len())
	for i, cell := range coords.Cells {
		rows[i] = domain.FeatureRow{
			Row:       cell.Row,
			Col:       cell.Col,
			X:         coords.X[i],
			Y:         coords.Y[i],
			R1d:       agg.R1d[i],
			R3d:       agg.R3d[i],
			R7d:       agg.R7d[i],
			R30d:      agg.R30d[i],
			Max3Day:   agg.Max3Day[i],
			Max30Day:  agg.Max30Day[i],
			Elevation: attrs.Elevation[i],
			Slope:     attrs.Slope[i],
			SoilDepth: attrs.SoilDepth[i],
			DeepSoil:  attrs.DeepSoil[i],
		}
	}
	return rows
}

// FeatureMean is the mean of one feature over a feature set.
type FeatureMean struct {
	Name  string
	Mean  float64 // NaN when no row has a value
	Valid int
}

// Means averages every rainfall and static feature over the rows, skipping
// missing values.
func Means(set *domain.FeatureSet) []FeatureMean {
	names := append(append([]string{}, domain.RainfallFeatures...), domain.StaticFeatures...)
	out := make([]FeatureMean, 0, len(names))
	for _, name := range names {
		var sum float64
		var n int
		for _, r := range set.Rows {
			v, _ := r.Feature(name)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		m := FeatureMean{Name: name, Mean: math.NaN(), Valid: n}
		if n > 0 {
			m.Mean = sum / float64(n)
		}
		out = append(out, m)
	}
	return out
}
