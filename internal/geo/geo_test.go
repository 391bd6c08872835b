package geo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlbers_OriginAndRoundTrip(t *testing.T) {
	p, err := Lookup(EPSGConusAlbers)
	require.NoError(t, err)

	x, y := p.Forward(-96, 23)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	// Asheville, NC.
	x, y = p.Forward(-82.55, 35.6)
	assert.Greater(t, x, 1_000_000.0)
	assert.Greater(t, y, 1_000_000.0)
	lon, lat := p.Inverse(x, y)
	assert.InDelta(t, -82.55, lon, 1e-7)
	assert.InDelta(t, 35.6, lat, 1e-7)
}

func TestUTM_CentralMeridianAndRoundTrip(t *testing.T) {
	p, err := Lookup(32617)
	require.NoError(t, err)

	x, y := p.Forward(-81, 0)
	assert.InDelta(t, 500000, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	x, y = p.Forward(-82.55, 35.6)
	lon, lat := p.Inverse(x, y)
	assert.InDelta(t, -82.55, lon, 1e-6)
	assert.InDelta(t, 35.6, lat, 1e-6)

	south, err := Lookup(32717)
	require.NoError(t, err)
	_, y = south.Forward(-81, -10)
	assert.Greater(t, y, 8_000_000.0)
}

func TestWebMercator(t *testing.T) {
	p, err := Lookup(EPSGWebMercator)
	require.NoError(t, err)

	x, y := p.Forward(180, 0)
	assert.InDelta(t, 20037508.34, x, 0.01)
	assert.InDelta(t, 0, y, 1e-6)

	lon, lat := p.Inverse(p.Forward(-82.55, 35.6))
	assert.InDelta(t, -82.55, lon, 1e-9)
	assert.InDelta(t, 35.6, lat, 1e-9)
}

func TestLookup_Unsupported(t *testing.T) {
	_, err := Lookup(2264)
	require.Error(t, err)
	assert.False(t, Supported(2264))
	assert.True(t, Supported(26917))
}

func TestEquivalentAndTransformer(t *testing.T) {
	assert.True(t, Equivalent(4326, 4269))
	assert.False(t, Equivalent(4326, 5070))

	tr, err := NewTransformer(4269, 4326)
	require.NoError(t, err)
	assert.True(t, tr.Identity())

	tr, err = NewTransformer(4326, 5070)
	require.NoError(t, err)
	assert.False(t, tr.Identity())
	xs, ys := tr.TransformAll([]float64{-96}, []float64{23})
	assert.InDelta(t, 0, xs[0], 1e-6)
	assert.InDelta(t, 0, ys[0], 1e-6)

	_, err = NewTransformer(4326, 9999)
	require.Error(t, err)
}

const regionJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"GEOID": "37021", "NAME": "Buncombe"},
     "geometry": {"type": "Polygon", "coordinates": [[[-83, 35], [-82, 35], [-82, 36], [-83, 36], [-83, 35]]]}},
    {"type": "Feature", "properties": {"GEOID": 37089, "NAME": "Henderson"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-83, 34], [-82, 34], [-82, 35], [-83, 35], [-83, 34]]]]}}
  ]
}`

func writeRegion(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counties.geojson")
	require.NoError(t, os.WriteFile(path, []byte(regionJSON), 0o644))
	return path
}

func TestLoadRegion(t *testing.T) {
	path := writeRegion(t)

	r, err := LoadRegion(path, "GEOID", "37021")
	require.NoError(t, err)
	assert.Len(t, r.Polygon, 1)
	assert.True(t, r.Contains(-82.5, 35.5))
	assert.False(t, r.Contains(-82.5, 34.5))

	r, err = LoadRegion(path, "GEOID", "37089")
	require.NoError(t, err, "numeric property values match their string form")
	assert.True(t, r.Contains(-82.5, 34.5))

	_, err = LoadRegion(path, "GEOID", "99999")
	require.ErrorIs(t, err, domain.ErrRegionNotFound)

	_, err = LoadRegion(filepath.Join(t.TempDir(), "missing.geojson"), "GEOID", "37021")
	require.Error(t, err)
}

func TestRasterize_CellCenterContainment(t *testing.T) {
	r, err := LoadRegion(writeRegion(t), "NAME", "Buncombe")
	require.NoError(t, err)

	// 4x4 cells of 0.5 degrees covering [-84,-82] x [34,36]; the region is
	// the upper right 2x2 block.
	g := raster.Grid{
		Width: 4, Height: 4,
		Transform: raster.Affine{OriginX: -84, PixelWidth: 0.5, OriginY: 36, PixelHeight: -0.5},
		EPSG:      4269,
	}
	m, err := Rasterize(r, g, 4269)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Count())
	assert.Equal(t, []Cell{{0, 2}, {0, 3}, {1, 2}, {1, 3}}, m.Cells())
}

func TestRasterize_FallbackCRSAndEmpty(t *testing.T) {
	r, err := LoadRegion(writeRegion(t), "NAME", "Buncombe")
	require.NoError(t, err)

	g := raster.Grid{
		Width: 2, Height: 2,
		Transform: raster.Affine{OriginX: -100, PixelWidth: 1, OriginY: 40, PixelHeight: -1},
	}
	_, err = Rasterize(r, g, 4269)
	require.ErrorIs(t, err, domain.ErrEmptyMask)

	_, err = Rasterize(r, g, 2264)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrEmptyMask)
}

func TestRasterize_ProjectedGrid(t *testing.T) {
	r, err := LoadRegion(writeRegion(t), "NAME", "Buncombe")
	require.NoError(t, err)

	alb, err := Lookup(EPSGConusAlbers)
	require.NoError(t, err)
	cx, cy := alb.Forward(-82.5, 35.5)

	// 3x3 grid of 4 km cells centred on the middle of the region.
	g := raster.Grid{
		Width: 3, Height: 3,
		Transform: raster.Affine{OriginX: cx - 6000, PixelWidth: 4000, OriginY: cy + 6000, PixelHeight: -4000},
		EPSG:      EPSGConusAlbers,
	}
	m, err := Rasterize(r, g, 4269)
	require.NoError(t, err)
	assert.Equal(t, 9, m.Count())
}
