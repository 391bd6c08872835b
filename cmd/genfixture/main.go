// Command genfixture writes a small synthetic rainfall archive for local
// runs: daily zipped GeoTIFFs laid out like the remote archive, a static
// terrain table, a region polygon, and a model registry.
//
// Usage:
//
//	go run ./cmd/genfixture -out data/fixture -end 2025-10-17 -days 35
//	go run ./cmd/genfixture -out data/fixture -serve :8000
//
// With -serve, the archive tree is served over HTTP so the synchronizer can
// run against PRISM_BASE_URL=http://localhost:8000.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/geo"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/klauspost/compress/zip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

const noData = -9999.0

// 20x15 cells of 0.2 degrees; centers fall on one-decimal coordinates so the
// static table joins at the default precision.
var grid = raster.Grid{
	Width: 20, Height: 15,
	Transform: raster.Affine{OriginX: -84.1, PixelWidth: 0.2, OriginY: 36.6, PixelHeight: -0.2},
	EPSG:      geo.EPSGNAD83,
}

type options struct {
	out       string
	variable  string
	timescale string
	prefix    string
	end       time.Time
	days      int
	skip      map[string]bool
	seed      uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/fixture", "output directory")
	endStr := flag.String("end", "", "newest archive date YYYY-MM-DD (default yesterday)")
	days := flag.Int("days", 35, "number of daily rasters")
	skip := flag.String("skip", "", "comma-separated dates to leave out of the archive")
	seed := flag.Uint64("seed", 42, "random seed")
	serve := flag.String("serve", "", "after writing, serve the archive tree on this address")
	flag.Parse()

	end := domain.AddDays(domain.Today(nil), -1)
	if *endStr != "" {
		d, err := domain.ParseDate(*endStr)
		if err != nil {
			return err
		}
		end = d
	}
	if *days < 1 {
		return errors.New("-days must be at least 1")
	}

	opts := options{
		out:       *out,
		variable:  "ppt",
		timescale: "daily",
		prefix:    "prism_ppt_us_30s_",
		end:       end,
		days:      *days,
		skip:      map[string]bool{},
		seed:      *seed,
	}
	for _, s := range strings.Split(*skip, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.skip[s] = true
		}
	}

	if err := writeArchive(opts); err != nil {
		return err
	}
	staticCSV, err := writeStatic(opts)
	if err != nil {
		return err
	}
	if err := writeStaticParquet(staticCSV); err != nil {
		return err
	}
	if err := writeRegion(opts); err != nil {
		return err
	}
	if err := writeModels(opts); err != nil {
		return err
	}
	log.Printf("fixture written to %s", opts.out)

	if *serve == "" {
		return nil
	}
	root := filepath.Join(opts.out, "archive")
	log.Printf("serving %s on %s", root, *serve)
	srv := &http.Server{
		Addr:              *serve,
		Handler:           http.FileServer(http.Dir(root)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func writeArchive(opts options) error {
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	written := 0
	for _, d := range domain.DateRange(opts.end, opts.days) {
		if opts.skip[d.Format(domain.LayoutISO)] {
			continue
		}
		im := dailyImage(rng, d)
		var tif bytes.Buffer
		if err := raster.Encode(&tif, im, raster.WriteOptions{Deflate: true}); err != nil {
			return fmt.Errorf("encode %s: %w", d.Format(domain.LayoutISO), err)
		}

		stem := opts.prefix + d.Format(domain.LayoutYMD)
		dir := filepath.Join(opts.out, "archive", opts.variable, opts.timescale, strconv.Itoa(d.Year()))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := writeZip(filepath.Join(dir, stem+".zip"), stem+".tif", tif.Bytes()); err != nil {
			return err
		}
		written++
	}
	log.Printf("archive: %d daily rasters ending %s", written, opts.end.Format(domain.LayoutISO))
	return nil
}

// dailyImage draws a storm band that drifts east over time, with dry days
// and a few NoData cells along the western edge.
func dailyImage(rng *rand.Rand, d time.Time) *raster.Image {
	im := raster.NewImage(grid)
	nd := noData
	im.NoData = &nd

	wet := rng.Float64() < 0.6
	center := float64(d.YearDay()%grid.Width) + rng.Float64()
	for row := range grid.Height {
		for col := range grid.Width {
			if col == 0 && row%5 == 0 {
				im.Set(row, col, noData)
				continue
			}
			if !wet {
				continue
			}
			dist := math.Abs(float64(col) - center)
			v := math.Max(0, 40*math.Exp(-dist*dist/18)+rng.NormFloat64()*2)
			im.Set(row, col, float32(math.Round(v*10)/10))
		}
	}
	return im
}

func writeZip(path, member string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(member)
	if err == nil {
		_, err = w.Write(data)
	}
	if err == nil {
		err = zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writeStatic writes one terrain row per cell center. Every seventh cell is
// left out so the join has misses to report.
func writeStatic(opts options) (string, error) {
	path := filepath.Join(opts.out, "static.csv")
	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"x", "y", "elevation_m", "slope_deg", "soil_depth_cm"})
	n := 0
	for row := range grid.Height {
		for col := range grid.Width {
			if (row*grid.Width+col)%7 == 3 {
				continue
			}
			x, y := grid.CellCenter(row, col)
			elev := 300 + 90*float64(col) + 15*float64(row)
			slope := math.Mod(float64(col*7+row*3), 35)
			soil := 80 + math.Mod(float64(col*31+row*17), 240)
			_ = w.Write([]string{
				strconv.FormatFloat(x, 'f', 1, 64),
				strconv.FormatFloat(y, 'f', 1, 64),
				strconv.FormatFloat(elev, 'f', 1, 64),
				strconv.FormatFloat(slope, 'f', 1, 64),
				strconv.FormatFloat(soil, 'f', 1, 64),
			})
			n++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("static: %d rows", n)
	return path, nil
}

// writeStaticParquet converts the static CSV through an in-process DuckDB so
// both supported static formats are available.
func writeStaticParquet(csvPath string) error {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	dest := strings.TrimSuffix(csvPath, ".csv") + ".parquet"
	query := fmt.Sprintf("COPY (SELECT * FROM read_csv_auto('%s', header = true)) TO '%s' (FORMAT PARQUET)",
		strings.ReplaceAll(csvPath, "'", "''"), strings.ReplaceAll(dest, "'", "''"))
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// writeRegion writes two named counties covering the middle of the grid.
func writeRegion(opts options) error {
	box := func(minX, minY, maxX, maxY float64) orb.Polygon {
		return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
	}
	fc := geojson.NewFeatureCollection()
	west := geojson.NewFeature(box(-83.5, 34.4, -82.5, 35.8))
	west.Properties["NAME"] = "Westfield"
	west.Properties["GEOID"] = "37001"
	east := geojson.NewFeature(box(-82.5, 34.4, -81.0, 35.8))
	east.Properties["NAME"] = "Eastbrook"
	east.Properties["GEOID"] = "37003"
	fc.Append(west)
	fc.Append(east)

	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(opts.out, "region.geojson"), data, 0o644)
}

type modelEntry struct {
	Name         string             `yaml:"name"`
	Kind         string             `yaml:"kind"`
	Features     []string           `yaml:"features"`
	Rename       map[string]string  `yaml:"rename,omitempty"`
	Intercept    float64            `yaml:"intercept"`
	Coefficients map[string]float64 `yaml:"coefficients"`
}

// writeModels writes a registry with one logistic model per rainfall horizon.
func writeModels(opts options) error {
	static := []string{domain.FeatureElevation, domain.FeatureSlope, domain.FeatureDeepSoil}
	rename := map[string]string{domain.FeatureElevation: "Elevation_m", domain.FeatureSlope: "Slope_deg"}
	models := []modelEntry{}
	for _, h := range []struct {
		name    string
		feature string
		coef    float64
	}{
		{"landslide_1d", domain.FeatureR1d, 0.08},
		{"landslide_3d", domain.FeatureR3d, 0.04},
		{"landslide_30d", domain.FeatureR30d, 0.01},
	} {
		models = append(models, modelEntry{
			Name:      h.name,
			Kind:      "logistic",
			Features:  append([]string{h.feature}, static...),
			Rename:    rename,
			Intercept: -4,
			Coefficients: map[string]float64{
				h.feature:              h.coef,
				"Elevation_m":          0.0004,
				"Slope_deg":            0.06,
				domain.FeatureDeepSoil: 0.5,
			},
		})
	}

	data, err := yaml.Marshal(map[string]any{"models": models})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(opts.out, "models.yaml"), data, 0o644)
}
