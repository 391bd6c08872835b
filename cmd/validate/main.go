// Command validate checks the integrity of feature output directories: the
// manifest, the feature table it names, and the optional GeoJSON export.
// It verifies row counts, column layout, probability bounds, and date
// bookkeeping.
//
// Usage:
//
//	go run ./cmd/validate data/predictions/2025-10-17 [more dirs...]
//	go run ./cmd/validate -all data/predictions
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

func main() {
	all := flag.String("all", "", "validate every dated directory under this output root")
	flag.Parse()

	dirs := flag.Args()
	if *all != "" {
		found, err := datedDirs(*all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		dirs = append(dirs, found...)
	}
	if len(dirs) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(context.Background(), os.Stdout, dirs))
}

func run(ctx context.Context, w io.Writer, dirs []string) int {
	fmt.Fprintln(w, "=== Feature Output Validation ===")

	failed := 0
	for _, dir := range dirs {
		phases := validateDir(ctx, dir)
		fmt.Fprintf(w, "\n%s\n", dir)
		ok := true
		for _, p := range phases {
			status := "\033[32mPASS\033[0m"
			if !p.passed() {
				status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
				ok = false
			}
			fmt.Fprintf(w, "  %-32s %s\n", p.name, status)
		}
		for _, p := range phases {
			for i, e := range p.errors {
				fmt.Fprintf(w, "    %s [%d] %s\n", p.name, i+1, e)
			}
		}
		if !ok {
			failed++
		}
	}

	if failed == 0 {
		fmt.Fprintf(w, "\nAll %d directories passed.\n", len(dirs))
		return 0
	}
	fmt.Fprintf(w, "\nValidation FAILED for %d of %d directories.\n", failed, len(dirs))
	return 1
}

// datedDirs lists the YYYY-MM-DD subdirectories of root, oldest first.
func datedDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := domain.ParseDate(e.Name()); err != nil {
			continue
		}
		out = append(out, filepath.Join(root, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
