package raster

import "math"

// Affine is a north-up geotransform: x = OriginX + col*PixelWidth,
// y = OriginY + row*PixelHeight. PixelHeight is negative for north-up grids.
type Affine struct {
	OriginX     float64
	PixelWidth  float64
	OriginY     float64
	PixelHeight float64
}

// Grid is the geometry shared by every layer of an aligned stack.
type Grid struct {
	Width     int
	Height    int
	Transform Affine
	EPSG      int // 0 when the file declares no usable CRS
}

// CellCenter returns the coordinates of the center of cell (row, col).
func (g Grid) CellCenter(row, col int) (x, y float64) {
	t := g.Transform
	return t.OriginX + (float64(col)+0.5)*t.PixelWidth, t.OriginY + (float64(row)+0.5)*t.PixelHeight
}

// Index returns the cell containing (x, y). Coordinates that are not at a
// cell center resolve to the cell they fall in. ok is false outside the grid.
func (g Grid) Index(x, y float64) (row, col int, ok bool) {
	t := g.Transform
	if t.PixelWidth == 0 || t.PixelHeight == 0 || math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, false
	}
	c := math.Floor((x - t.OriginX) / t.PixelWidth)
	r := math.Floor((y - t.OriginY) / t.PixelHeight)
	if c < 0 || r < 0 || c >= float64(g.Width) || r >= float64(g.Height) {
		return 0, 0, false
	}
	return int(r), int(c), true
}

// Bounds returns the grid extent as min/max coordinates.
func (g Grid) Bounds() (minX, minY, maxX, maxY float64) {
	t := g.Transform
	x0, x1 := t.OriginX, t.OriginX+float64(g.Width)*t.PixelWidth
	y0, y1 := t.OriginY, t.OriginY+float64(g.Height)*t.PixelHeight
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// SameGeometry reports whether two grids have identical shape, transform, and CRS.
func (g Grid) SameGeometry(o Grid) bool {
	return g == o
}
