package geo

import (
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Region is an area of interest in geographic coordinates.
type Region struct {
	Name    string
	EPSG    int
	Polygon orb.MultiPolygon
}

// LoadRegion reads a GeoJSON feature collection and returns the union of
// polygon features whose property equals value. Property values are
// compared as strings, so numeric codes such as FIPS "37021" match either
// representation.
func LoadRegion(path, property, value string) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode region file %s: %w", path, err)
	}

	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		v, ok := f.Properties[property]
		if !ok || !strings.EqualFold(fmt.Sprint(v), value) {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = append(mp, g)
		case orb.MultiPolygon:
			mp = append(mp, g...)
		}
	}
	if len(mp) == 0 {
		return nil, fmt.Errorf("%s=%q in %s: %w", property, value, path, domain.ErrRegionNotFound)
	}
	return &Region{Name: value, EPSG: EPSGWGS84, Polygon: mp}, nil
}

// Contains reports whether a point in the region's CRS lies inside it.
func (r *Region) Contains(x, y float64) bool {
	return planar.MultiPolygonContains(r.Polygon, orb.Point{x, y})
}

// Mask is a boolean grid aligned with a reference raster.
type Mask struct {
	Width, Height int
	bits          []bool
}

// NewMask returns an all-false mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, bits: make([]bool, width*height)}
}

// Set marks (row, col).
func (m *Mask) Set(row, col int, v bool) { m.bits[row*m.Width+col] = v }

// At reports whether (row, col) is inside the region.
func (m *Mask) At(row, col int) bool { return m.bits[row*m.Width+col] }

// Count returns the number of true cells.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Cell is a grid position.
type Cell struct{ Row, Col int }

// Cells returns the true cells in row-major order.
func (m *Mask) Cells() []Cell {
	out := make([]Cell, 0, m.Count())
	for r := range m.Height {
		for c := range m.Width {
			if m.At(r, c) {
				out = append(out, Cell{Row: r, Col: c})
			}
		}
	}
	return out
}

// Rasterize marks every cell of g whose center falls inside the region.
// Cell centers are projected into the region's CRS for the test.
func Rasterize(region *Region, g raster.Grid, fallbackEPSG int) (*Mask, error) {
	epsg := g.EPSG
	if epsg == 0 {
		epsg = fallbackEPSG
	}
	tr, err := NewTransformer(epsg, region.EPSG)
	if err != nil {
		return nil, fmt.Errorf("project grid into region CRS: %w", err)
	}
	bound := region.Polygon.Bound()

	m := NewMask(g.Width, g.Height)
	for r := range g.Height {
		for c := range g.Width {
			x, y := g.CellCenter(r, c)
			px, py := tr.Transform(x, y)
			pt := orb.Point{px, py}
			if !bound.Contains(pt) {
				continue
			}
			if planar.MultiPolygonContains(region.Polygon, pt) {
				m.Set(r, c, true)
			}
		}
	}
	if m.Count() == 0 {
		return nil, fmt.Errorf("region %s over %dx%d grid: %w", region.Name, g.Width, g.Height, domain.ErrEmptyMask)
	}
	return m, nil
}
