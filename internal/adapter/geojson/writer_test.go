package geojson

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSet(epsg int, x, y float64) *domain.FeatureSet {
	target := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	return &domain.FeatureSet{
		Requested: target,
		Resolved:  time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC),
		EPSG:      epsg,
		Models:    []string{"slide"},
		Rows: []domain.FeatureRow{{
			Row: 2, Col: 3, X: x, Y: y,
			R1d: 1.5, R3d: 2, R7d: 2, R30d: 9, Max3Day: 1.5, Max30Day: 4,
			Elevation: 120, Slope: math.NaN(), SoilDepth: 80, DeepSoil: 0,
			Probabilities: map[string]float64{"slide": 0.4},
		}},
	}
}

func TestBuild_GeographicPassThrough(t *testing.T) {
	fc, err := Build(context.Background(), testSet(geo.EPSGNAD83, -121.5, 44.25))
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	pt, ok := f.Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, -121.5, pt.Lon(), 1e-9)
	assert.InDelta(t, 44.25, pt.Lat(), 1e-9)

	assert.Equal(t, 1.5, f.Properties["R1d"])
	assert.Equal(t, 0.4, f.Properties["p_slide"])
	assert.Equal(t, 0.0, f.Properties["deep_soil_flag"])
	_, hasSlope := f.Properties["slope"]
	assert.False(t, hasSlope, "missing values are omitted")
	assert.Equal(t, "2025-10-17", fc.ExtraMembers["target_date"])
	assert.Equal(t, "2025-10-16", fc.ExtraMembers["rainfall_through"])
}

func TestBuild_ProjectsToWGS84(t *testing.T) {
	// Web Mercator origin is 0,0 in geographic coordinates.
	fc, err := Build(context.Background(), testSet(geo.EPSGWebMercator, 0, 0))
	require.NoError(t, err)

	pt := fc.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, 0, pt.Lon(), 1e-9)
	assert.InDelta(t, 0, pt.Lat(), 1e-9)
}

func TestBuild_UnsupportedCRS(t *testing.T) {
	_, err := Build(context.Background(), testSet(2193, 0, 0))
	require.Error(t, err)
}

func TestWriter_WriteFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(slog.New(slog.NewTextHandler(io.Discard, nil)))

	files, err := w.WriteFiles(context.Background(), dir, testSet(geo.EPSGWGS84, -120, 45))
	require.NoError(t, err)
	assert.Equal(t, []string{"features_2025-10-17.geojson"}, files)

	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, 0.4, fc.Features[0].Properties.MustFloat64("p_slide"))
}
