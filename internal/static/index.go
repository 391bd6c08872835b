// Package static loads the static terrain attribute table and answers
// nearest-match lookups by rounded coordinates.
package static

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Columns names the table columns holding each attribute.
type Columns struct {
	X         string
	Y         string
	Elevation string
	Slope     string
	SoilDepth string
}

// DefaultColumns matches the static grid produced by the terrain preparation step.
var DefaultColumns = Columns{X: "x", Y: "y", Elevation: "elevation_m", Slope: "slope_deg", SoilDepth: "soil_depth_cm"}

func (c Columns) list() []string {
	return []string{c.X, c.Y, c.Elevation, c.Slope, c.SoilDepth}
}

// Attributes is the static triple joined onto a grid cell. Missing values are NaN.
type Attributes struct {
	Elevation float64
	Slope     float64
	SoilDepth float64
}

// Missing is the attribute triple for a lookup miss.
func Missing() Attributes {
	return Attributes{Elevation: math.NaN(), Slope: math.NaN(), SoilDepth: math.NaN()}
}

type key struct{ x, y int64 }

// Index maps rounded coordinates to attributes. It is read-only once built.
type Index struct {
	epsg      int
	precision int
	scale     float64
	rows      map[key]Attributes
}

// NewIndex returns an empty index rounding to precision decimals. epsg is
// the CRS of the table's coordinates.
func NewIndex(epsg, precision int) *Index {
	return &Index{
		epsg:      epsg,
		precision: precision,
		scale:     math.Pow10(precision),
		rows:      make(map[key]Attributes),
	}
}

func (ix *Index) key(x, y float64) key {
	return key{int64(math.Round(x * ix.scale)), int64(math.Round(y * ix.scale))}
}

// Add stores attributes at (x, y). It reports false when the rounded key was
// already present; the first value is kept.
func (ix *Index) Add(x, y float64, a Attributes) bool {
	k := ix.key(x, y)
	if _, dup := ix.rows[k]; dup {
		return false
	}
	ix.rows[k] = a
	return true
}

// Lookup returns the attributes at the rounded (x, y).
func (ix *Index) Lookup(x, y float64) (Attributes, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return Missing(), false
	}
	a, ok := ix.rows[ix.key(x, y)]
	if !ok {
		return Missing(), false
	}
	return a, true
}

// EPSG returns the CRS of the indexed coordinates.
func (ix *Index) EPSG() int { return ix.epsg }

// Precision returns the rounding precision in decimals.
func (ix *Index) Precision() int { return ix.precision }

// Len returns the number of indexed keys.
func (ix *Index) Len() int { return len(ix.rows) }

// LoadOptions configures Load.
type LoadOptions struct {
	Columns   Columns
	EPSG      int
	Precision int
	Logger    *slog.Logger
}

// Load reads a parquet or CSV table through an in-process DuckDB and builds
// an index. Missing columns are an error naming every absent column. NULL
// attribute values become NaN.
func Load(ctx context.Context, path string, opts LoadOptions) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src, err := tableFunction(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	present, err := describe(ctx, db, src)
	if err != nil {
		return nil, fmt.Errorf("inspect static table %s: %w", path, err)
	}
	var missing []string
	for _, c := range opts.Columns.list() {
		if _, ok := present[strings.ToLower(c)]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("static table %s is missing columns: %s", path, strings.Join(missing, ", "))
	}

	cols := opts.Columns.list()
	selects := make([]string, len(cols))
	for i, c := range cols {
		selects[i] = "TRY_CAST(" + quoteIdent(c) + " AS DOUBLE)"
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), src)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read static table %s: %w", path, err)
	}
	defer rows.Close()

	ix := NewIndex(opts.EPSG, opts.Precision)
	var total, dupes, skipped int
	for rows.Next() {
		var x, y, elev, slope, soil sql.NullFloat64
		if err := rows.Scan(&x, &y, &elev, &slope, &soil); err != nil {
			return nil, fmt.Errorf("scan static row: %w", err)
		}
		total++
		if !x.Valid || !y.Valid {
			skipped++
			continue
		}
		if !ix.Add(x.Float64, y.Float64, Attributes{
			Elevation: nullToNaN(elev),
			Slope:     nullToNaN(slope),
			SoilDepth: nullToNaN(soil),
		}) {
			dupes++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read static table %s: %w", path, err)
	}

	logger.Info("static attributes loaded",
		"path", path,
		"rows", total,
		"keys", ix.Len(),
		"duplicates", dupes,
		"skipped", skipped,
	)
	return ix, nil
}

func describe(ctx context.Context, db *sql.DB, src string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+src)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	colTypes, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{})
	for rows.Next() {
		vals := make([]any, len(colTypes))
		ptrs := make([]any, len(colTypes))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if name, ok := vals[0].(string); ok {
			present[strings.ToLower(name)] = struct{}{}
		}
	}
	return present, rows.Err()
}

func tableFunction(path string) (string, error) {
	lit := quoteLiteral(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet", ".pq":
		return "read_parquet(" + lit + ")", nil
	case ".csv":
		return "read_csv_auto(" + lit + ", header = true)", nil
	default:
		return "", errors.New("static table must be .parquet or .csv: " + path)
	}
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
