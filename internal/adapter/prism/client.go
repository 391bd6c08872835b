// Package prism talks to the PRISM time-series archive over HTTP.
package prism

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

const userAgent = "rainfall-grid-etl/1.0"

// Client implements rastersync.Remote with plain HEAD and GET requests.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an archive client. timeout caps any single request,
// including the body stream; callers add tighter per-call deadlines.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Head probes url and returns its fingerprint. 404 maps to
// domain.ErrRemoteNotFound; any other non-2xx is a *domain.StatusError.
func (c *Client) Head(ctx context.Context, url string) (*domain.Fingerprint, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrRemoteNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.StatusError{Method: http.MethodHead, URL: url, StatusCode: resp.StatusCode}
	}

	fp := &domain.Fingerprint{
		ETag:            resp.Header.Get("ETag"),
		LastModifiedUTC: c.normalizeLastModified(url, resp.Header.Get("Last-Modified")),
		ContentLength:   contentLength(resp),
	}
	return fp, nil
}

// Get opens a body stream for url. The caller closes it.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, &domain.StatusError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), url, err)
	}
	return resp, nil
}

// normalizeLastModified converts an HTTP date to RFC 3339 UTC. An absent or
// unparseable header yields "".
func (c *Client) normalizeLastModified(url, raw string) string {
	if raw == "" {
		return ""
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		c.logger.Debug("unparseable Last-Modified", "url", url, "value", raw)
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func contentLength(resp *http.Response) *int64 {
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			return &n
		}
	}
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		return &n
	}
	return nil
}
