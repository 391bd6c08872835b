package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Raster cache and remote archive.
	RainDir         string
	PrismBaseURL    string
	PrismVariable   string
	PrismTimescale  string
	PrismPrefix     string
	SyncStartOffset int
	SyncEndOffset   int
	RetentionDays   int
	CompareFields   []string
	HeadTimeout     time.Duration
	GetTimeout      time.Duration
	FetchAttempts   int
	FetchBackoff    time.Duration
	Extract         bool
	DeleteZip       bool
	VerifyRaster    bool
	SyncWorkers     int

	// Feature engine.
	WindowDays        int
	FallbackEPSG      int
	RegionFile        string
	RegionProperty    string
	RegionValue       string
	StaticFile        string
	StaticColX        string
	StaticColY        string
	StaticColElev     string
	StaticColSlope    string
	StaticColSoil     string
	StaticEPSG        int
	StaticPrecision   int
	DeepSoilThreshold float64
	StrictDates       bool

	// Outputs.
	OutputDir      string
	GeoJSONExport  bool
	ModelsFile     string
	FeatureWorkers int
	KafkaBrokers   []string
	KafkaTopic     string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	// Service.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RunInterval     time.Duration
	LastRunFile     string
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		RainDir:         sharedcfg.EnvOrDefault("RAIN_DIR", "data/rainfall"),
		PrismBaseURL:    sharedcfg.EnvOrDefault("PRISM_BASE_URL", "https://data.prism.oregonstate.edu/time_series/us/an/800m"),
		PrismVariable:   sharedcfg.EnvOrDefault("PRISM_VARIABLE", "ppt"),
		PrismTimescale:  sharedcfg.EnvOrDefault("PRISM_TIMESCALE", "daily"),
		PrismPrefix:     sharedcfg.EnvOrDefault("PRISM_PREFIX", "prism_ppt_us_30s_"),
		SyncStartOffset: p.int("SYNC_START_OFFSET_DAYS", 1, 0),
		SyncEndOffset:   p.int("SYNC_END_OFFSET_DAYS", 30, 0),
		RetentionDays:   p.int("RETENTION_DAYS", 30, 0),
		CompareFields:   splitList(sharedcfg.EnvOrDefault("COMPARE_FIELDS", "etag,last_modified_utc,content_length")),
		HeadTimeout:     p.duration("HEAD_TIMEOUT", 30*time.Second),
		GetTimeout:      p.duration("GET_TIMEOUT", 180*time.Second),
		FetchAttempts:   p.int("FETCH_MAX_ATTEMPTS", 3, 1),
		FetchBackoff:    p.duration("FETCH_BACKOFF", 2*time.Second),
		Extract:         p.bool("EXTRACT", true),
		DeleteZip:       p.bool("DELETE_ZIP_AFTER_EXTRACT", true),
		VerifyRaster:    p.bool("VERIFY_RASTER", true),
		SyncWorkers:     p.int("SYNC_WORKERS", 4, 1),

		WindowDays:        p.int("FEATURE_WINDOW_DAYS", 30, 1),
		FallbackEPSG:      p.int("RAIN_FALLBACK_EPSG", 4269, 1),
		RegionFile:        os.Getenv("REGION_FILE"),
		RegionProperty:    sharedcfg.EnvOrDefault("REGION_PROPERTY", "NAME"),
		RegionValue:       os.Getenv("REGION_VALUE"),
		StaticFile:        os.Getenv("STATIC_FILE"),
		StaticColX:        sharedcfg.EnvOrDefault("STATIC_COL_X", "x"),
		StaticColY:        sharedcfg.EnvOrDefault("STATIC_COL_Y", "y"),
		StaticColElev:     sharedcfg.EnvOrDefault("STATIC_COL_ELEV", "elevation_m"),
		StaticColSlope:    sharedcfg.EnvOrDefault("STATIC_COL_SLOPE", "slope_deg"),
		StaticColSoil:     sharedcfg.EnvOrDefault("STATIC_COL_SOIL", "soil_depth_cm"),
		StaticEPSG:        p.int("STATIC_EPSG", 0, 0),
		StaticPrecision:   p.int("STATIC_PRECISION", 1, 0),
		DeepSoilThreshold: p.float("DEEP_SOIL_THRESHOLD", 200),
		StrictDates:       p.bool("STRICT_DATES", false),

		OutputDir:      sharedcfg.EnvOrDefault("OUTPUT_DIR", "data/predictions"),
		GeoJSONExport:  p.bool("GEOJSON_EXPORT", false),
		ModelsFile:     sharedcfg.EnvOrDefault("MODELS_FILE", "models.yaml"),
		FeatureWorkers: p.int("FEATURE_WORKERS", 2, 1),
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     os.Getenv("KAFKA_TOPIC"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Prefix:       sharedcfg.EnvOrDefault("S3_PREFIX", "features"),
		S3Region:       sharedcfg.EnvOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		RunInterval:     p.duration("RUN_INTERVAL", time.Hour),
		LastRunFile:     sharedcfg.EnvOrDefault("LAST_RUN_FILE", "data/state/last_run.txt"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if cfg.SyncEndOffset < cfg.SyncStartOffset {
		return nil, errors.New("SYNC_END_OFFSET_DAYS must not be less than SYNC_START_OFFSET_DAYS")
	}
	if cfg.RegionFile != "" && cfg.RegionValue == "" {
		return nil, errors.New("REGION_VALUE is required when REGION_FILE is set")
	}
	if cfg.KafkaTopic != "" && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_TOPIC is set")
	}
	return cfg, nil
}

// parser reads typed variables and collects one error per bad variable.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def, min int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < min {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q (want an integer >= %d)", key, s, min))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q", key, s))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q (want a positive duration)", key, s))
		return def
	}
	return d
}

func (p *parser) bool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %q (want true or false)", key, s))
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
