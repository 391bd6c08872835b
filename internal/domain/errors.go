package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRemoteNotFound is the normal "not published" outcome of a probe.
	ErrRemoteNotFound = errors.New("remote raster not found")
	// ErrTransientFetch wraps the final failure after the retry budget is spent.
	ErrTransientFetch = errors.New("fetch failed after retries")
	// ErrVerificationFailure means extraction finished but the expected raster is absent.
	ErrVerificationFailure = errors.New("expected raster missing after extraction")

	ErrNoDataAvailable  = errors.New("no rainfall rasters available")
	ErrNoReadableRaster = errors.New("no readable rainfall raster in window")
	ErrDateNotAvailable = errors.New("requested date not available")
	ErrRegionNotFound   = errors.New("region polygon not found")
	ErrEmptyMask        = errors.New("region mask is empty")
)

// Stage names a step of per-date feature extraction.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageCollect   Stage = "collect"
	StageReference Stage = "reference"
	StageSample    Stage = "sample"
	StageAggregate Stage = "aggregate"
	StageJoin      Stage = "join"
	StageScore     Stage = "score"
	StageEmit      Stage = "emit"
	StagePublish   Stage = "publish"
)

// StageError reports which stage halted processing of a date.
type StageError struct {
	Date  time.Time
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Date.Format(LayoutISO), e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// WrapStage wraps err in a StageError unless it already is one.
func WrapStage(date time.Time, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Date: date, Stage: stage, Err: err}
}

// StageOf returns the failing stage of err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// StatusError is a non-success HTTP response from a remote endpoint.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth another attempt: server
// errors, request timeout, and rate limiting.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}
