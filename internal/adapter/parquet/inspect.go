package parquet

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ColumnStats summarises one numeric column.
type ColumnStats struct {
	Name  string
	Nulls int64
	Min   sql.NullFloat64
	Max   sql.NullFloat64
}

// Inspection describes a written feature table.
type Inspection struct {
	Rows    int64
	Columns []string
	Stats   map[string]ColumnStats // probability columns only
}

// Inspect reads the schema, row count, and probability column ranges of a
// parquet file.
func Inspect(ctx context.Context, path string) (*Inspection, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	src := "read_parquet(" + quoteLiteral(path) + ")"
	out := &Inspection{Stats: make(map[string]ColumnStats)}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+src+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out.Columns, err = rows.Columns()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", path, err)
	}

	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+src).Scan(&out.Rows); err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", path, err)
	}

	for _, c := range out.Columns {
		if !strings.HasPrefix(c, "p_") {
			continue
		}
		st := ColumnStats{Name: c}
		q := fmt.Sprintf("SELECT count(*) - count(%[1]s), min(%[1]s), max(%[1]s) FROM %[2]s", quoteIdent(c), src)
		if err := db.QueryRowContext(ctx, q).Scan(&st.Nulls, &st.Min, &st.Max); err != nil {
			return nil, fmt.Errorf("stats of %s: %w", c, err)
		}
		out.Stats[c] = st
	}
	return out, nil
}
