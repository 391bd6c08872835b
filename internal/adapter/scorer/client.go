// Package scorer calls a remote scoring model over HTTP.
//
// Request body:
//
//	{"columns": ["R3d", "Slope"], "rows": [[1.5, 12.0], [null, 3.0]]}
//
// Response body:
//
//	{"probabilities": [0.12, null]}
//
// Missing values travel as JSON null in both directions.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/scoring"
)

const defaultTimeout = 30 * time.Second

// Client implements scoring.Model against an HTTP endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a scoring client for endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Builder returns a scoring.Builder for the "http" model kind.
func Builder(logger *slog.Logger) scoring.Builder {
	return func(spec scoring.ModelSpec) (scoring.Model, error) {
		if spec.Endpoint == "" {
			return nil, errors.New("http model needs an endpoint")
		}
		return NewClient(spec.Endpoint, spec.Timeout, logger.With("model", spec.Name)), nil
	}
}

type request struct {
	Columns []string     `json:"columns"`
	Rows    [][]*float64 `json:"rows"`
}

type response struct {
	Probabilities []*float64 `json:"probabilities"`
}

// Predict posts the matrix and returns one probability per row.
func (c *Client) Predict(ctx context.Context, columns []string, rows [][]float64) ([]float64, error) {
	body, err := json.Marshal(request{Columns: columns, Rows: nullable(rows)})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("scoring API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Probabilities) != len(rows) {
		return nil, fmt.Errorf("scoring API returned %d probabilities for %d rows", len(out.Probabilities), len(rows))
	}

	probs := make([]float64, len(out.Probabilities))
	for i, p := range out.Probabilities {
		if p == nil {
			probs[i] = math.NaN()
		} else {
			probs[i] = *p
		}
	}
	c.logger.Debug("scored rows", "rows", len(rows), "duration", time.Since(start))
	return probs, nil
}

func nullable(rows [][]float64) [][]*float64 {
	out := make([][]*float64, len(rows))
	for i, row := range rows {
		vals := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) && !math.IsInf(row[j], 0) {
				vals[j] = &row[j]
			}
		}
		out[i] = vals
	}
	return out
}
