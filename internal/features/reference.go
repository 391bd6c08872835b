package features

import (
	"fmt"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
)

// Reference is the grid every window layer is sampled onto.
type Reference struct {
	Date time.Time
	Path string
	Grid raster.Grid
	EPSG int // Grid.EPSG, or the fallback when the raster declares none
}

// Coords are the in-mask cells of the reference grid and their centers.
type Coords struct {
	Cells []geo.Cell
	X, Y  []float64
}

// Len returns the number of cells.
func (c Coords) Len() int { return len(c.Cells) }

// BuildReferenceAndMask opens the newest readable raster in the window as the
// reference grid and rasterizes the region onto it.
func (e *Engine) BuildReferenceAndMask(window []domain.WindowDay) (*Reference, *geo.Mask, error) {
	var ref *Reference
	for i := len(window) - 1; i >= 0; i-- {
		day := window[i]
		if !day.Present() {
			continue
		}
		ds, err := raster.Open(day.Path)
		if err != nil {
			e.logger.Warn("skipping unreadable reference candidate",
				"date", day.Date.Format(domain.LayoutISO), "path", day.Path, "error", err)
			continue
		}
		g := ds.Grid()
		ds.Close()
		epsg := g.EPSG
		if epsg == 0 {
			epsg = e.cfg.FallbackEPSG
		}
		ref = &Reference{Date: day.Date, Path: day.Path, Grid: g, EPSG: epsg}
		break
	}
	if ref == nil {
		return nil, nil, domain.ErrNoReadableRaster
	}

	mask, err := e.mask(ref.Grid)
	if err != nil {
		return ref, nil, err
	}
	return ref, mask, nil
}

// mask returns the region mask for g, building it once per distinct grid.
func (e *Engine) mask(g raster.Grid) (*geo.Mask, error) {
	e.maskMu.Lock()
	defer e.maskMu.Unlock()

	if m, ok := e.masks[g]; ok {
		return m, nil
	}
	var m *geo.Mask
	if e.cfg.Region == nil {
		m = geo.NewMask(g.Width, g.Height)
		for r := range g.Height {
			for c := range g.Width {
				m.Set(r, c, true)
			}
		}
	} else {
		var err error
		m, err = geo.Rasterize(e.cfg.Region, g, e.cfg.FallbackEPSG)
		if err != nil {
			return nil, fmt.Errorf("rasterize region: %w", err)
		}
	}
	e.masks[g] = m
	return m, nil
}

// ReferenceCoords lists the in-mask cells in row-major order with their
// centers in the reference CRS.
func ReferenceCoords(ref *Reference, mask *geo.Mask) Coords {
	cells := mask.Cells()
	c := Coords{Cells: cells, X: make([]float64, len(cells)), Y: make([]float64, len(cells))}
	for i, cell := range cells {
		c.X[i], c.Y[i] = ref.Grid.CellCenter(cell.Row, cell.Col)
	}
	return c
}
