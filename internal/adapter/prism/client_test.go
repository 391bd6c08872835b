package prism

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return NewClient(5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_Head_Fingerprint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/ppt/daily/2025/prism_ppt_us_30s_20251017.zip", r.URL.Path)
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		w.Header().Set("ETag", `"abc-123"`)
		w.Header().Set("Last-Modified", "Fri, 17 Oct 2025 14:05:09 GMT")
		w.Header().Set("Content-Length", "52817")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fp, err := testClient().Head(context.Background(), srv.URL+"/ppt/daily/2025/prism_ppt_us_30s_20251017.zip")

	require.NoError(t, err)
	assert.Equal(t, `"abc-123"`, fp.ETag)
	assert.Equal(t, "2025-10-17T14:05:09Z", fp.LastModifiedUTC)
	require.NotNil(t, fp.ContentLength)
	assert.Equal(t, int64(52817), *fp.ContentLength)
}

func TestClient_Head_MissingHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Last-Modified", "yesterday-ish")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fp, err := testClient().Head(context.Background(), srv.URL+"/a.zip")

	require.NoError(t, err)
	assert.Empty(t, fp.ETag)
	assert.Empty(t, fp.LastModifiedUTC)
}

func TestClient_Head_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fp, err := testClient().Head(context.Background(), srv.URL+"/a.zip")

	assert.Nil(t, fp)
	require.ErrorIs(t, err, domain.ErrRemoteNotFound)
}

func TestClient_Head_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient().Head(context.Background(), srv.URL+"/a.zip")

	var se *domain.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, http.MethodHead, se.Method)
	assert.True(t, se.Retryable())
}

func TestClient_Get_StreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte("PK archive bytes"))
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL+"/a.zip")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "PK archive bytes", string(data))
}

func TestClient_Get_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	body, err := testClient().Get(context.Background(), srv.URL+"/a.zip")

	assert.Nil(t, body)
	var se *domain.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.False(t, se.Retryable())
}

func TestClient_Get_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := testClient().Get(ctx, srv.URL+"/a.zip")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
