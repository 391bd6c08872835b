package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/observability"
	"github.com/couchcryptid/rainfall-grid-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	mu    sync.Mutex
	fail  map[string]error // keyed by YYYY-MM-DD
	calls []time.Time
}

func (m *mockExtractor) Extract(_ context.Context, requested time.Time) (*domain.FeatureSet, error) {
	m.mu.Lock()
	m.calls = append(m.calls, requested)
	err := m.fail[requested.Format(domain.LayoutISO)]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.FeatureSet{
		Requested:     requested,
		Resolved:      domain.AddDays(requested, -1),
		Snapped:       true,
		WindowStart:   domain.AddDays(requested, -30),
		AvailableDays: 29,
		MissingDays:   1,
		StaticMisses:  2,
		EPSG:          4269,
		Rows: []domain.FeatureRow{
			{Row: 0, Col: 0, R3d: 1},
			{Row: 0, Col: 1, R3d: math.NaN()},
		},
	}, nil
}

type mockScorer struct{ err error }

func (m *mockScorer) Apply(_ context.Context, set *domain.FeatureSet) error {
	if m.err != nil {
		return m.err
	}
	set.Models = []string{"slide"}
	for i := range set.Rows {
		set.Rows[i].Probabilities = map[string]float64{"slide": 0.5}
	}
	return nil
}

type mockWriter struct {
	name string
	err  error
}

func (m *mockWriter) WriteFiles(_ context.Context, dir string, set *domain.FeatureSet) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	name := m.name + "_" + set.Requested.Format(domain.LayoutISO) + ".out"
	return []string{name}, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644)
}

type mockPublisher struct {
	mu        sync.Mutex
	manifests []domain.Manifest
	dirs      []string
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, dir string, manifest domain.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.dirs = append(m.dirs, dir)
	m.manifests = append(m.manifests, manifest)
	return nil
}

var testNow = time.Date(2025, 10, 18, 6, 0, 0, 0, time.UTC)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, ext pipeline.Extractor, sc pipeline.Scorer, writers []pipeline.Writer, pubs []pipeline.Publisher) (*pipeline.Pipeline, string, *observability.Metrics) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out")
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, sc, pipeline.Options{
		OutputDir:  out,
		Workers:    2,
		Writers:    writers,
		Publishers: pubs,
		Clock:      clockwork.NewFakeClockAt(testNow),
	}, testLogger(), metrics)
	return p, out, metrics
}

// --- tests ---

func TestPipeline_Process_WritesOutputAndManifest(t *testing.T) {
	pub := &mockPublisher{}
	p, out, metrics := newPipeline(t, &mockExtractor{}, &mockScorer{},
		[]pipeline.Writer{&mockWriter{name: "table"}, &mockWriter{name: "map"}},
		[]pipeline.Publisher{pub})

	require.Error(t, p.CheckReadiness(context.Background()))

	res := p.Process(context.Background(), day("2025-10-17"))

	require.NoError(t, res.Err)
	assert.Equal(t, filepath.Join(out, "2025-10-17"), res.Dir)
	assert.Equal(t, day("2025-10-16"), res.Resolved)

	got, err := pipeline.ReadManifest(res.Dir)
	require.NoError(t, err)
	want := domain.Manifest{
		TargetDate:      "2025-10-17",
		RainfallThrough: "2025-10-16",
		Snapped:         true,
		WindowStart:     "2025-09-17",
		AvailableDays:   29,
		MissingDays:     1,
		Rows:            2,
		Models:          []string{"slide"},
		Outputs:         []string{"table_2025-10-17.out", "map_2025-10-17.out"},
		GeneratedUTC:    "2025-10-18T06:00:00Z",
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
	for _, name := range want.Outputs {
		assert.FileExists(t, filepath.Join(res.Dir, name))
	}

	require.Len(t, pub.manifests, 1)
	assert.Equal(t, res.Dir, pub.dirs[0])
	assert.Equal(t, want.Outputs, pub.manifests[0].Outputs)

	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.FeatureRows), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.MissingDays), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.StaticJoinMisses), 1e-9)
	assert.InDelta(t, float64(testNow.Unix()), testutil.ToFloat64(metrics.LastSuccess), 1e-9)

	staging, err := filepath.Glob(filepath.Join(out, ".*"))
	require.NoError(t, err)
	assert.Empty(t, staging)
}

func TestPipeline_Process_WriterFailureKeepsPreviousOutput(t *testing.T) {
	p, out, metrics := newPipeline(t, &mockExtractor{}, &mockScorer{},
		[]pipeline.Writer{&mockWriter{name: "table"}}, nil)
	first := p.Process(context.Background(), day("2025-10-17"))
	require.NoError(t, first.Err)

	broken := pipeline.New(&mockExtractor{}, &mockScorer{}, pipeline.Options{
		OutputDir: out,
		Writers:   []pipeline.Writer{&mockWriter{name: "table"}, &mockWriter{err: errors.New("disk full")}},
		Clock:     clockwork.NewFakeClockAt(testNow),
	}, testLogger(), metrics)

	res := broken.Process(context.Background(), day("2025-10-17"))

	require.Error(t, res.Err)
	assert.Equal(t, domain.StageEmit, res.Stage())
	assert.FileExists(t, filepath.Join(out, "2025-10-17", "table_2025-10-17.out"))
	assert.FileExists(t, filepath.Join(out, "2025-10-17", domain.ManifestFile))
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.StageFailures.WithLabelValues("emit")), 1e-9)
}

func TestPipeline_Process_StageAttribution(t *testing.T) {
	tests := []struct {
		name   string
		ext    *mockExtractor
		scorer *mockScorer
		pub    *mockPublisher
		want   domain.Stage
	}{
		{
			name:   "extract stage error passes through",
			ext:    &mockExtractor{fail: map[string]error{"2025-10-17": domain.WrapStage(day("2025-10-17"), domain.StageReference, domain.ErrNoReadableRaster)}},
			scorer: &mockScorer{},
			pub:    &mockPublisher{},
			want:   domain.StageReference,
		},
		{
			name:   "plain extract error is a resolve failure",
			ext:    &mockExtractor{fail: map[string]error{"2025-10-17": domain.ErrNoDataAvailable}},
			scorer: &mockScorer{},
			pub:    &mockPublisher{},
			want:   domain.StageResolve,
		},
		{
			name:   "score",
			ext:    &mockExtractor{},
			scorer: &mockScorer{err: errors.New("model offline")},
			pub:    &mockPublisher{},
			want:   domain.StageScore,
		},
		{
			name:   "publish",
			ext:    &mockExtractor{},
			scorer: &mockScorer{},
			pub:    &mockPublisher{err: errors.New("broker down")},
			want:   domain.StagePublish,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newPipeline(t, tt.ext, tt.scorer, []pipeline.Writer{&mockWriter{name: "table"}}, []pipeline.Publisher{tt.pub})
			res := p.Process(context.Background(), day("2025-10-17"))
			require.Error(t, res.Err)
			assert.Equal(t, tt.want, res.Stage())
		})
	}
}

func TestPipeline_Run_FailuresDoNotStopSiblings(t *testing.T) {
	ext := &mockExtractor{fail: map[string]error{"2025-10-16": domain.ErrNoDataAvailable}}
	p, out, metrics := newPipeline(t, ext, &mockScorer{}, []pipeline.Writer{&mockWriter{name: "table"}}, nil)

	report := p.Run(context.Background(), []time.Time{day("2025-10-17"), day("2025-10-16"), day("2025-10-15")})

	require.Len(t, report.Results, 3)
	assert.Equal(t, day("2025-10-17"), report.Results[0].Requested)
	assert.Equal(t, day("2025-10-16"), report.Results[1].Requested)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	require.ErrorIs(t, report.Err(), domain.ErrNoDataAvailable)
	assert.DirExists(t, filepath.Join(out, "2025-10-17"))
	assert.NoDirExists(t, filepath.Join(out, "2025-10-16"))
	assert.DirExists(t, filepath.Join(out, "2025-10-15"))
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.FeatureDates.WithLabelValues("ok")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning), 1e-9)
}

func TestPipeline_Run_CancelledContext(t *testing.T) {
	ext := &mockExtractor{}
	p, _, metrics := newPipeline(t, ext, &mockScorer{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := p.Run(ctx, []time.Time{day("2025-10-17")})
	require.Len(t, report.Results, 1)
	require.ErrorIs(t, report.Results[0].Err, context.Canceled)
	assert.Empty(t, report.Results[0].Stage(), "a skipped date has no failing stage")
	assert.Empty(t, ext.calls)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.FeatureDates.WithLabelValues("cancelled")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.StageFailures.WithLabelValues(string(domain.StageResolve))), 1e-9)
}

func TestDaily_RunsOncePerTarget(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	ext := &mockExtractor{}
	p, out, _ := newPipeline(t, ext, &mockScorer{}, []pipeline.Writer{&mockWriter{name: "table"}}, nil)
	marker := filepath.Join(t.TempDir(), "state", "last_run.txt")

	syncs := 0
	d := pipeline.NewDaily(func(context.Context) error {
		syncs++
		return errors.New("one date failed")
	}, p, marker, clock, testLogger())

	assert.Equal(t, day("2025-10-17"), d.Target())

	ran, err := d.RunOnce(context.Background())
	require.NoError(t, err, "a sync failure does not fail the run")
	assert.True(t, ran)
	assert.DirExists(t, filepath.Join(out, "2025-10-17"))
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-17\n", string(data))

	ran, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, syncs)

	clock.Advance(24 * time.Hour)
	ran, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, syncs)
	assert.Equal(t, day("2025-10-18"), ext.calls[len(ext.calls)-1])
}

func TestDaily_FailedRunIsRetried(t *testing.T) {
	ext := &mockExtractor{fail: map[string]error{"2025-10-17": domain.ErrNoDataAvailable}}
	p, _, _ := newPipeline(t, ext, &mockScorer{}, nil, nil)
	marker := filepath.Join(t.TempDir(), "last_run.txt")
	d := pipeline.NewDaily(nil, p, marker, clockwork.NewFakeClockAt(testNow), testLogger())

	ran, err := d.RunOnce(context.Background())
	assert.True(t, ran)
	require.Error(t, err)
	assert.NoFileExists(t, marker)

	delete(ext.fail, "2025-10-17")
	ran, err = d.RunOnce(context.Background())
	assert.True(t, ran)
	require.NoError(t, err)
	assert.FileExists(t, marker)
}
