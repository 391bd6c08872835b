// Package parquet writes feature tables to Parquet through an in-process
// DuckDB. Rows are staged as CSV, copied into a typed table, then exported.
package parquet

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"

	_ "github.com/duckdb/duckdb-go/v2"
)

// FileName is the feature table name for a target date.
func FileName(target time.Time) string {
	return "features_" + target.Format(domain.LayoutISO) + ".parquet"
}

type column struct {
	name string
	typ  string
}

// Columns returns the output schema for a set of models, in file order.
func Columns(models []string) []string {
	cols := schema(models)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

func schema(models []string) []column {
	cols := []column{
		{"row", "INTEGER"},
		{"col", "INTEGER"},
		{"x", "DOUBLE"},
		{"y", "DOUBLE"},
	}
	for _, f := range domain.RainfallFeatures {
		cols = append(cols, column{f, "DOUBLE"})
	}
	for _, f := range domain.StaticFeatures {
		cols = append(cols, column{f, "DOUBLE"})
	}
	for _, m := range models {
		cols = append(cols, column{domain.ProbabilityColumn(m), "DOUBLE"})
	}
	return cols
}

// Writer writes the feature table of a scored set.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

// WriteFiles writes features_<date>.parquet into dir and returns its name.
// NaN values are stored as NULL.
func (w *Writer) WriteFiles(ctx context.Context, dir string, set *domain.FeatureSet) ([]string, error) {
	start := time.Now()
	name := FileName(set.Requested)
	cols := schema(set.Models)

	csvPath, err := w.stageCSV(ctx, dir, cols, set)
	if err != nil {
		return nil, err
	}
	defer os.Remove(csvPath)

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.name) + " " + c.typ
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE features (%s)", strings.Join(defs, ", "))}
	if len(set.Rows) > 0 {
		stmts = append(stmts, fmt.Sprintf("COPY features FROM %s (FORMAT CSV, HEADER false, NULLSTR '')", quoteLiteral(csvPath)))
	}
	stmts = append(stmts, fmt.Sprintf("COPY (SELECT * FROM features ORDER BY \"row\", \"col\") TO %s (FORMAT PARQUET, COMPRESSION ZSTD)",
		quoteLiteral(filepath.Join(dir, name))))
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	w.logger.Debug("feature table written", "file", name, "rows", len(set.Rows), "duration", time.Since(start))
	return []string{name}, nil
}

func (w *Writer) stageCSV(ctx context.Context, dir string, cols []column, set *domain.FeatureSet) (string, error) {
	f, err := os.CreateTemp(dir, ".features_*.csv")
	if err != nil {
		return "", fmt.Errorf("create staging csv: %w", err)
	}
	cw := csv.NewWriter(f)

	record := make([]string, len(cols))
	for i, r := range set.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				f.Close()
				os.Remove(f.Name())
				return "", err
			}
		}
		record[0] = strconv.Itoa(r.Row)
		record[1] = strconv.Itoa(r.Col)
		record[2] = formatFloat(r.X)
		record[3] = formatFloat(r.Y)
		k := 4
		for _, name := range domain.RainfallFeatures {
			v, _ := r.Feature(name)
			record[k] = formatFloat(v)
			k++
		}
		for _, name := range domain.StaticFeatures {
			v, _ := r.Feature(name)
			record[k] = formatFloat(v)
			k++
		}
		for _, m := range set.Models {
			p, ok := r.Probabilities[m]
			if !ok {
				p = math.NaN()
			}
			record[k] = formatFloat(p)
			k++
		}
		if err := cw.Write(record); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write staging csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write staging csv: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close staging csv: %w", err)
	}
	return f.Name(), nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
