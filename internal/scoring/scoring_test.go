package scoring

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingModel struct {
	columns []string
	rows    [][]float64
	out     []float64
	err     error
}

func (m *recordingModel) Predict(_ context.Context, columns []string, rows [][]float64) ([]float64, error) {
	m.columns = columns
	m.rows = rows
	if m.err != nil {
		return nil, m.err
	}
	if m.out != nil {
		return m.out, nil
	}
	return make([]float64, len(rows)), nil
}

func twoRows() *domain.FeatureSet {
	return &domain.FeatureSet{Rows: []domain.FeatureRow{
		{R3d: 10, Elevation: 700, Slope: 20},
		{R3d: 0, Elevation: math.NaN(), Slope: 5},
	}}
}

func TestLogistic_Predict(t *testing.T) {
	m, err := NewLogistic(ModelSpec{
		Features:     []string{domain.FeatureR3d},
		Intercept:    0,
		Coefficients: map[string]float64{domain.FeatureR3d: 1},
	})
	require.NoError(t, err)

	got, err := m.Predict(context.Background(), []string{domain.FeatureR3d}, [][]float64{{0}, {math.Log(3)}, {math.NaN()}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got[0], 1e-12)
	assert.InDelta(t, 0.75, got[1], 1e-12)
	assert.True(t, math.IsNaN(got[2]), "missing input gives missing probability")
}

func TestNewLogistic_RequiresCoefficientPerInput(t *testing.T) {
	_, err := NewLogistic(ModelSpec{
		Features:     []string{domain.FeatureElevation},
		Rename:       map[string]string{domain.FeatureElevation: "Elevation_m"},
		Coefficients: map[string]float64{domain.FeatureElevation: 1},
	})
	require.Error(t, err, "coefficients are keyed by the renamed input")
}

func TestRegistry_ApplyRenamesAndStoresProbabilities(t *testing.T) {
	m := &recordingModel{out: []float64{0.9, 0.1}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(ModelSpec{
		Name:     "landslide",
		Features: []string{domain.FeatureR3d, domain.FeatureElevation},
		Rename:   map[string]string{domain.FeatureElevation: "Elevation_m"},
	}, m))

	set := twoRows()
	require.NoError(t, reg.Apply(context.Background(), set))

	assert.Equal(t, []string{"R3d", "Elevation_m"}, m.columns)
	assert.Equal(t, []float64{10, 700}, m.rows[0])
	assert.Equal(t, []string{"landslide"}, set.Models)
	assert.InDelta(t, 0.9, set.Rows[0].Probabilities["landslide"], 1e-12)
	assert.InDelta(t, 0.1, set.Rows[1].Probabilities["landslide"], 1e-12)
}

func TestRegistry_ApplyErrors(t *testing.T) {
	spec := ModelSpec{Name: "m", Features: []string{domain.FeatureR3d}}

	reg := NewRegistry()
	require.NoError(t, reg.Register(spec, &recordingModel{err: errors.New("boom")}))
	require.ErrorContains(t, reg.Apply(context.Background(), twoRows()), "boom")

	reg = NewRegistry()
	require.NoError(t, reg.Register(spec, &recordingModel{out: []float64{0.5}}))
	require.ErrorContains(t, reg.Apply(context.Background(), twoRows()), "1 predictions for 2 rows")

	reg = NewRegistry()
	require.NoError(t, reg.Register(spec, &recordingModel{out: []float64{0.5, 1.5}}))
	require.ErrorContains(t, reg.Apply(context.Background(), twoRows()), "out of range")
}

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(ModelSpec{Features: []string{domain.FeatureR3d}}, &recordingModel{}))
	require.Error(t, reg.Register(ModelSpec{Name: "a"}, &recordingModel{}))
	require.Error(t, reg.Register(ModelSpec{Name: "a", Features: []string{"rainfall"}}, &recordingModel{}))
	require.NoError(t, reg.Register(ModelSpec{Name: "a", Features: []string{domain.FeatureR3d}}, &recordingModel{}))
	require.Error(t, reg.Register(ModelSpec{Name: "a", Features: []string{domain.FeatureR3d}}, &recordingModel{}))
}

func TestRegistry_EmptyApplySetsNoModels(t *testing.T) {
	set := twoRows()
	require.NoError(t, NewRegistry().Apply(context.Background(), set))
	assert.Empty(t, set.Models)
	assert.Nil(t, set.Rows[0].Probabilities)
}

const registryYAML = `
models:
  - name: landslide
    kind: logistic
    features: [R3d, elevation]
    rename:
      elevation: Elevation_m
    intercept: -1
    coefficients:
      R3d: 0.1
      Elevation_m: 0.001
  - name: remote
    kind: http
    features: [R30d]
    endpoint: http://scorer.local/predict
    timeout: 5s
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))

	var seen ModelSpec
	reg, err := Load(path, map[string]Builder{
		"http": func(spec ModelSpec) (Model, error) {
			seen = spec
			return &recordingModel{}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"landslide", "remote"}, reg.Names())
	assert.Equal(t, "http://scorer.local/predict", seen.Endpoint)
	assert.Equal(t, "5s", seen.Timeout.String())

	set := twoRows()
	require.NoError(t, reg.Apply(context.Background(), set))
	assert.InDelta(t, 1/(1+math.Exp(-(-1+1+0.7))), set.Rows[0].Probabilities["landslide"], 1e-12)
	assert.True(t, math.IsNaN(set.Rows[1].Probabilities["landslide"]))
}

func TestLoad_MissingFileAndUnknownKind(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())

	reg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())

	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o644))
	_, err = Load(path, nil)
	require.ErrorContains(t, err, `unknown kind "http"`)
}
