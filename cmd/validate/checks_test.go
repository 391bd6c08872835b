package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/geojson"
	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/parquet"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func scoredSet() *domain.FeatureSet {
	target := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	through := time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC)
	return &domain.FeatureSet{
		Requested:     target,
		Resolved:      through,
		Snapped:       true,
		WindowStart:   domain.AddDays(through, -29),
		AvailableDays: 28,
		MissingDays:   2,
		EPSG:          4326,
		Models:        []string{"slide"},
		Rows: []domain.FeatureRow{
			{Row: 0, Col: 0, X: -83.9, Y: 35.5, R1d: 1, R3d: 2, R7d: 3, R30d: 4, Max3Day: 1, Max30Day: 2,
				Elevation: 400, Slope: 10, SoilDepth: 220, DeepSoil: 1,
				Probabilities: map[string]float64{"slide": 0.3}},
			{Row: 0, Col: 1, X: -83.7, Y: 35.5, R1d: 0, R3d: 0, R7d: 1, R30d: 5, Max3Day: 0, Max30Day: 3,
				Elevation: 500, Slope: 20, SoilDepth: 150, DeepSoil: 0,
				Probabilities: map[string]float64{"slide": 0.6}},
		},
	}
}

// writeOutput builds a complete output directory the way the pipeline does.
func writeOutput(t *testing.T, set *domain.FeatureSet, mutate func(*domain.Manifest)) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), set.Requested.Format(domain.LayoutISO))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	m := domain.NewManifest(set, time.Date(2025, 10, 18, 6, 0, 0, 0, time.UTC))
	for _, w := range []interface {
		WriteFiles(context.Context, string, *domain.FeatureSet) ([]string, error)
	}{parquet.NewWriter(discard), geojson.NewWriter(discard)} {
		names, err := w.WriteFiles(context.Background(), dir, set)
		require.NoError(t, err)
		m.Outputs = append(m.Outputs, names...)
	}
	if mutate != nil {
		mutate(&m)
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.ManifestFile), data, 0o644))
	return dir
}

func failures(phases []*phase) map[string][]string {
	out := map[string][]string{}
	for _, p := range phases {
		if !p.passed() {
			out[p.name] = p.errors
		}
	}
	return out
}

func TestValidateDir_ConsistentOutputPasses(t *testing.T) {
	dir := writeOutput(t, scoredSet(), nil)

	assert.Empty(t, failures(validateDir(context.Background(), dir)))
}

func TestValidateDir_DetectsMismatches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Manifest)
		phases []string
	}{
		{
			name:   "row count",
			mutate: func(m *domain.Manifest) { m.Rows = 5 },
			phases: []string{"feature table", "geojson"},
		},
		{
			name:   "window bookkeeping",
			mutate: func(m *domain.Manifest) { m.MissingDays = 0 },
			phases: []string{"manifest"},
		},
		{
			name:   "snapped flag",
			mutate: func(m *domain.Manifest) { m.Snapped = false },
			phases: []string{"manifest"},
		},
		{
			name:   "unknown model column",
			mutate: func(m *domain.Manifest) { m.Models = []string{"slide", "flood"} },
			phases: []string{"feature table"},
		},
		{
			name:   "missing output file",
			mutate: func(m *domain.Manifest) { m.Outputs = append(m.Outputs, "extra.csv") },
			phases: []string{"outputs"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeOutput(t, scoredSet(), tt.mutate)
			got := failures(validateDir(context.Background(), dir))
			for _, name := range tt.phases {
				assert.Contains(t, got, name)
			}
			assert.Len(t, got, len(tt.phases))
		})
	}
}

func TestValidateDir_ProbabilityOutOfRange(t *testing.T) {
	set := scoredSet()
	set.Rows[1].Probabilities["slide"] = 1.4
	dir := writeOutput(t, set, nil)

	got := failures(validateDir(context.Background(), dir))
	require.Contains(t, got, "feature table")
	assert.Contains(t, got["feature table"][0], "> 1")
}

func TestValidateDir_MissingManifest(t *testing.T) {
	got := failures(validateDir(context.Background(), t.TempDir()))
	assert.Contains(t, got, "manifest")
}

func TestRun_ExitCodes(t *testing.T) {
	good := writeOutput(t, scoredSet(), nil)
	bad := writeOutput(t, scoredSet(), func(m *domain.Manifest) { m.Rows = 0 })

	var buf bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), &buf, []string{good}))
	assert.Contains(t, buf.String(), "All 1 directories passed.")

	buf.Reset()
	assert.Equal(t, 1, run(context.Background(), &buf, []string{good, bad}))
	assert.Contains(t, buf.String(), "FAILED for 1 of 2")
}

func TestDatedDirs(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"2025-10-17", "2025-10-01", ".2025-10-18.tmp-1", "notes"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	got, err := datedDirs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "2025-10-01"), filepath.Join(root, "2025-10-17")}, got)
}
