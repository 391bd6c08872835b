package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/geojson"
	"github.com/couchcryptid/rainfall-grid-etl/internal/adapter/parquet"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/pipeline"
	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func validateDir(ctx context.Context, dir string) []*phase {
	load := &phase{name: "manifest"}
	m, err := pipeline.ReadManifest(dir)
	if err != nil {
		load.errorf("%v", err)
		return []*phase{load}
	}
	return []*phase{
		validateManifest(m, dir),
		validateOutputsExist(m, dir),
		validateTable(ctx, m, dir),
		validateGeoJSON(m, dir),
	}
}

// validateManifest checks date bookkeeping: the rainfall date never follows
// the target, the window covers available plus missing days, and the
// directory is named after the target date.
func validateManifest(m *domain.Manifest, dir string) *phase {
	p := &phase{name: "manifest"}

	target, err := domain.ParseDate(m.TargetDate)
	if err != nil {
		p.errorf("target_date: %v", err)
	}
	through, err := domain.ParseDate(m.RainfallThrough)
	if err != nil {
		p.errorf("rainfall_through: %v", err)
	}
	start, err := domain.ParseDate(m.WindowStart)
	if err != nil {
		p.errorf("window_start: %v", err)
	}
	if !p.passed() {
		return p
	}

	if filepath.Base(dir) != m.TargetDate {
		p.errorf("directory %q does not match target_date %s", filepath.Base(dir), m.TargetDate)
	}
	if m.Snapped != !through.Equal(target) {
		p.errorf("snapped=%v but rainfall_through %s vs target %s", m.Snapped, m.RainfallThrough, m.TargetDate)
	}
	if start.After(through) {
		p.errorf("window_start %s after rainfall_through %s", m.WindowStart, m.RainfallThrough)
	}
	window := int(through.Sub(start).Hours()/24) + 1
	if m.AvailableDays+m.MissingDays != window {
		p.errorf("available_days %d + missing_days %d != window of %d days", m.AvailableDays, m.MissingDays, window)
	}
	if m.AvailableDays < 1 {
		p.errorf("available_days is %d", m.AvailableDays)
	}
	if m.Rows < 0 {
		p.errorf("rows is %d", m.Rows)
	}
	if m.GeneratedUTC == "" {
		p.errorf("generated_utc is empty")
	}
	return p
}

func validateOutputsExist(m *domain.Manifest, dir string) *phase {
	p := &phase{name: "outputs"}
	target, err := domain.ParseDate(m.TargetDate)
	if err != nil {
		p.errorf("target_date: %v", err)
		return p
	}
	if !slices.Contains(m.Outputs, parquet.FileName(target)) {
		p.errorf("outputs does not list %s", parquet.FileName(target))
	}
	for _, name := range m.Outputs {
		info, err := os.Stat(filepath.Join(dir, name))
		switch {
		case err != nil:
			p.errorf("%s: %v", name, err)
		case info.Size() == 0:
			p.errorf("%s is empty", name)
		}
	}
	return p
}

// validateTable compares the parquet table with the manifest and checks
// every probability column lies in [0, 1].
func validateTable(ctx context.Context, m *domain.Manifest, dir string) *phase {
	p := &phase{name: "feature table"}
	target, err := domain.ParseDate(m.TargetDate)
	if err != nil {
		p.errorf("target_date: %v", err)
		return p
	}
	ins, err := parquet.Inspect(ctx, filepath.Join(dir, parquet.FileName(target)))
	if err != nil {
		p.errorf("%v", err)
		return p
	}

	if ins.Rows != int64(m.Rows) {
		p.errorf("table has %d rows, manifest says %d", ins.Rows, m.Rows)
	}
	if want := parquet.Columns(m.Models); !slices.Equal(ins.Columns, want) {
		p.errorf("columns %v, want %v", ins.Columns, want)
	}
	for _, model := range m.Models {
		col := domain.ProbabilityColumn(model)
		st, ok := ins.Stats[col]
		if !ok {
			continue
		}
		if st.Min.Valid && st.Min.Float64 < 0 {
			p.errorf("%s min %.6f < 0", col, st.Min.Float64)
		}
		if st.Max.Valid && st.Max.Float64 > 1 {
			p.errorf("%s max %.6f > 1", col, st.Max.Float64)
		}
		if st.Nulls == ins.Rows && ins.Rows > 0 {
			p.errorf("%s is entirely null", col)
		}
	}
	return p
}

// validateGeoJSON checks the optional export carries one point per row and
// the same dates as the manifest. A manifest without the export passes.
func validateGeoJSON(m *domain.Manifest, dir string) *phase {
	p := &phase{name: "geojson"}
	target, err := domain.ParseDate(m.TargetDate)
	if err != nil {
		p.errorf("target_date: %v", err)
		return p
	}
	name := geojson.FileName(target)
	if !slices.Contains(m.Outputs, name) {
		return p
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	fc, err := orbjson.UnmarshalFeatureCollection(data)
	if err != nil {
		p.errorf("decode %s: %v", name, err)
		return p
	}
	if len(fc.Features) != m.Rows {
		p.errorf("%d features, manifest says %d rows", len(fc.Features), m.Rows)
	}
	if got := fmt.Sprint(fc.ExtraMembers["target_date"]); got != m.TargetDate {
		p.errorf("target_date %q, manifest says %s", got, m.TargetDate)
	}
	if got := fmt.Sprint(fc.ExtraMembers["rainfall_through"]); got != m.RainfallThrough {
		p.errorf("rainfall_through %q, manifest says %s", got, m.RainfallThrough)
	}
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			p.errorf("feature %d has geometry %T, want a point", i, f.Geometry)
			break
		}
		if pt.Lon() < -180 || pt.Lon() > 180 || pt.Lat() < -90 || pt.Lat() > 90 {
			p.errorf("feature %d at (%f, %f) is outside WGS84 bounds", i, pt.Lon(), pt.Lat())
			break
		}
	}
	return p
}
