package rastersync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// Config controls one synchronizer. It is passed explicitly at construction.
type Config struct {
	BaseURL   string
	Variable  string
	Timescale string
	Prefix    string

	// Dates synced are today-StartOffsetDays back to today-EndOffsetDays.
	StartOffsetDays int
	EndOffsetDays   int
	RetentionDays   int

	CompareFields []string

	HeadTimeout time.Duration
	GetTimeout  time.Duration
	MaxAttempts int
	Backoff     time.Duration // sleep before retry n is Backoff*n

	Extract               bool
	DeleteZipAfterExtract bool
	VerifyRaster          bool

	Workers int
}

// DefaultConfig mirrors the published PRISM daily precipitation layout.
func DefaultConfig() Config {
	return Config{
		BaseURL:               "https://data.prism.oregonstate.edu/time_series/us/an/800m",
		Variable:              "ppt",
		Timescale:             "daily",
		Prefix:                "prism_ppt_us_30s_",
		StartOffsetDays:       1,
		EndOffsetDays:         30,
		RetentionDays:         30,
		CompareFields:         slices.Clone(domain.KnownFingerprintFields),
		HeadTimeout:           30 * time.Second,
		GetTimeout:            180 * time.Second,
		MaxAttempts:           3,
		Backoff:               2 * time.Second,
		Extract:               true,
		DeleteZipAfterExtract: true,
		VerifyRaster:          true,
		Workers:               4,
	}
}

// Validate checks field ranges and compare field names.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.Prefix == "" {
		errs = append(errs, errors.New("file prefix is required"))
	}
	if c.StartOffsetDays < 0 || c.EndOffsetDays < c.StartOffsetDays {
		errs = append(errs, fmt.Errorf("offset range [%d, %d] is invalid", c.StartOffsetDays, c.EndOffsetDays))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention days %d is negative", c.RetentionDays))
	}
	for _, f := range c.CompareFields {
		if !slices.Contains(domain.KnownFingerprintFields, f) {
			errs = append(errs, fmt.Errorf("unknown compare field %q (want one of %s)", f, strings.Join(domain.KnownFingerprintFields, ", ")))
		}
	}
	if c.HeadTimeout <= 0 || c.GetTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts %d must be at least 1", c.MaxAttempts))
	}
	if c.Backoff < 0 {
		errs = append(errs, errors.New("backoff must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers %d must be at least 1", c.Workers))
	}
	return errors.Join(errs...)
}

// URL returns the remote archive URL for day:
// base/variable/timescale/YYYY/prefixYYYYMMDD.zip.
func (c Config) URL(day time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%04d/%s%s.zip",
		strings.TrimRight(c.BaseURL, "/"), c.Variable, c.Timescale, day.Year(), c.Prefix, day.Format(domain.LayoutYMD))
}

// Dates returns the dates covered by the offset range, newest first.
func (c Config) Dates(today time.Time) []time.Time {
	out := make([]time.Time, 0, c.EndOffsetDays-c.StartOffsetDays+1)
	for off := c.StartOffsetDays; off <= c.EndOffsetDays; off++ {
		out = append(out, domain.AddDays(today, -off))
	}
	return out
}
