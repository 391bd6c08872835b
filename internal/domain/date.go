package domain

import (
	"fmt"
	"time"
)

const (
	// LayoutYMD is the compact form embedded in cache file names.
	LayoutYMD = "20060102"
	// LayoutISO is the form used for output directories and manifests.
	LayoutISO = "2006-01-02"
)

// Day truncates t to its calendar day at midnight UTC. The calendar day is
// taken in t's own location, so a local "now" maps to the local date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a Day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(LayoutISO, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// ParseYMD parses a YYYYMMDD string into a Day.
func ParseYMD(s string) (time.Time, error) {
	t, err := time.Parse(LayoutYMD, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// AddDays shifts a Day by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}

// DateRange returns the n consecutive days ending at end, oldest first.
func DateRange(end time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	for i := range n {
		out[i] = AddDays(end, i-n+1)
	}
	return out
}
