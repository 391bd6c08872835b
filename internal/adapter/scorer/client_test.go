package scorer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Predict_RoundTripsMissingValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, []any{"R3d", "Slope"}, raw["columns"])
		rows := raw["rows"].([]any)
		require.Len(t, rows, 2)
		assert.Equal(t, []any{1.5, 12.0}, rows[0])
		assert.Equal(t, []any{nil, 3.0}, rows[1])

		_, _ = w.Write([]byte(`{"probabilities": [0.25, null]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, testLogger())
	probs, err := c.Predict(context.Background(), []string{"R3d", "Slope"}, [][]float64{
		{1.5, 12},
		{math.NaN(), 3},
	})

	require.NoError(t, err)
	require.Len(t, probs, 2)
	assert.InDelta(t, 0.25, probs[0], 1e-12)
	assert.True(t, math.IsNaN(probs[1]))
}

func TestClient_Predict_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, testLogger()).Predict(context.Background(), []string{"R3d"}, [][]float64{{1}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestClient_Predict_LengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"probabilities": [0.1]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, testLogger()).Predict(context.Background(), []string{"R3d"}, [][]float64{{1}, {2}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 probabilities for 2 rows")
}

func TestBuilder_RequiresEndpoint(t *testing.T) {
	build := Builder(testLogger())

	_, err := build(scoring.ModelSpec{Name: "remote", Kind: "http"})
	require.Error(t, err)

	m, err := build(scoring.ModelSpec{Name: "remote", Kind: "http", Endpoint: "http://localhost:9/score"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, m)
}
