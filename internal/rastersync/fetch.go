package rastersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// Remote is the archive server.
type Remote interface {
	// Head returns the fingerprint of url, or domain.ErrRemoteNotFound.
	Head(ctx context.Context, url string) (*domain.Fingerprint, error)
	// Get opens a stream of url. Non-success statuses return *domain.StatusError.
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// linearBackOff waits base*n before retry n.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// isRetryable classifies a failed attempt. Status errors are retried only for
// server errors, 408, and 429; transport and stream errors always are.
func isRetryable(err error) bool {
	var se *domain.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// FetchWithRetry downloads url to dest. Each attempt streams into dest+".tmp"
// under its own timeout and renames only after a complete copy. The temp file
// never outlives a failed attempt. When every attempt fails the last error is
// returned wrapped in domain.ErrTransientFetch.
func FetchWithRetry(ctx context.Context, remote Remote, url, dest string, timeout time.Duration, maxAttempts int, base time.Duration, notify func(attempt int, err error, wait time.Duration)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	tmp := dest + ".tmp"
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fetchOnce(ctx, remote, url, tmp, timeout)
		if err == nil {
			return struct{}{}, nil
		}
		os.Remove(tmp)
		if ctx.Err() != nil || !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&linearBackOff{base: base}),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if notify != nil {
				notify(attempt, err, wait)
			}
		}),
	)
	if err != nil {
		os.Remove(tmp)
		// Retry hands back the wrapper when the last try was permanent.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if isRetryable(err) && ctx.Err() == nil {
			return fmt.Errorf("%w: %d attempts: %w", domain.ErrTransientFetch, attempt, err)
		}
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(tmp), err)
	}
	return nil
}

func fetchOnce(ctx context.Context, remote Remote, url, tmp string, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := remote.Get(attemptCtx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(tmp), err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("stream %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(tmp), err)
	}
	return nil
}
