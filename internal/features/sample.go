package features

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
)

// Stack holds one sampled layer per window day, oldest first. Each layer has
// one value per reference cell; missing values are NaN.
type Stack struct {
	Dates      []time.Time
	Layers     [][]float64
	Missing    int // days with no raster, zero-filled
	Unreadable int // days whose raster failed to read, zero-filled
}

// Available returns the number of days sampled from a raster.
func (s *Stack) Available() int {
	return len(s.Layers) - s.Missing - s.Unreadable
}

// coordCache holds reference cell centers projected into each raster CRS
// encountered in a window, filled on first use.
type coordCache struct {
	ref    *Reference
	coords Coords
	byEPSG map[int][2][]float64
}

func newCoordCache(ref *Reference, coords Coords) *coordCache {
	return &coordCache{ref: ref, coords: coords, byEPSG: make(map[int][2][]float64)}
}

func (c *coordCache) get(epsg int) ([]float64, []float64, error) {
	if xy, ok := c.byEPSG[epsg]; ok {
		return xy[0], xy[1], nil
	}
	tr, err := geo.NewTransformer(c.ref.EPSG, epsg)
	if err != nil {
		return nil, nil, err
	}
	xs, ys := c.coords.X, c.coords.Y
	if !tr.Identity() {
		xs, ys = tr.TransformAll(xs, ys)
	}
	c.byEPSG[epsg] = [2][]float64{xs, ys}
	return xs, ys, nil
}

// SampleWindow samples every window day at the reference cell centers.
// Absent days and days that fail to read become all-zero layers.
func (e *Engine) SampleWindow(ctx context.Context, window []domain.WindowDay, ref *Reference, coords Coords) (*Stack, error) {
	stack := &Stack{
		Dates:  make([]time.Time, len(window)),
		Layers: make([][]float64, len(window)),
	}
	cache := newCoordCache(ref, coords)

	for i, day := range window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stack.Dates[i] = day.Date
		if !day.Present() {
			stack.Layers[i] = make([]float64, coords.Len())
			stack.Missing++
			continue
		}
		layer, err := e.sampleDay(day.Path, cache)
		if err != nil {
			e.logger.Warn("rainfall raster unreadable, using zero layer",
				"date", day.Date.Format(domain.LayoutISO), "path", day.Path, "error", err)
			stack.Layers[i] = make([]float64, coords.Len())
			stack.Unreadable++
			continue
		}
		stack.Layers[i] = layer
	}
	return stack, nil
}

func (e *Engine) sampleDay(path string, cache *coordCache) ([]float64, error) {
	ds, err := raster.Open(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	epsg := ds.Grid().EPSG
	if epsg == 0 {
		epsg = e.cfg.FallbackEPSG
	}
	xs, ys, err := cache.get(epsg)
	if err != nil {
		return nil, fmt.Errorf("project cell centers: %w", err)
	}

	out := make([]float64, len(xs))
	for i := range xs {
		v, err := ds.Sample(xs[i], ys[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
