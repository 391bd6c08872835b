package domain

import (
	"math"
	"time"
)

// Internal feature names. Models may expect different input names; the
// scoring registry renames per model.
const (
	FeatureR1d       = "R1d"
	FeatureR3d       = "R3d"
	FeatureR7d       = "R7d"
	FeatureR30d      = "R30d"
	FeatureMax3Day   = "Max_Rainfall_3day"
	FeatureMax30Day  = "Max_Rainfall_30day"
	FeatureElevation = "elevation"
	FeatureSlope     = "slope"
	FeatureSoilDepth = "soil_depth"
	FeatureDeepSoil  = "deep_soil_flag"
)

// RainfallFeatures lists the six rainfall aggregates in output order.
var RainfallFeatures = []string{
	FeatureR1d, FeatureR3d, FeatureR7d, FeatureR30d, FeatureMax3Day, FeatureMax30Day,
}

// StaticFeatures lists the joined static attributes in output order.
var StaticFeatures = []string{FeatureElevation, FeatureSlope, FeatureSoilDepth, FeatureDeepSoil}

// FeatureRow is one in-region grid cell. Missing values are NaN.
type FeatureRow struct {
	Row int
	Col int
	X   float64 // cell center in the reference grid's CRS
	Y   float64

	R1d      float64
	R3d      float64
	R7d      float64
	R30d     float64
	Max3Day  float64
	Max30Day float64

	Elevation float64
	Slope     float64
	SoilDepth float64
	DeepSoil  float64 // 1 or 0; NaN when soil depth is missing

	// Probabilities is keyed by model name.
	Probabilities map[string]float64
}

// Feature returns a named feature value.
func (r FeatureRow) Feature(name string) (float64, bool) {
	switch name {
	case FeatureR1d:
		return r.R1d, true
	case FeatureR3d:
		return r.R3d, true
	case FeatureR7d:
		return r.R7d, true
	case FeatureR30d:
		return r.R30d, true
	case FeatureMax3Day:
		return r.Max3Day, true
	case FeatureMax30Day:
		return r.Max30Day, true
	case FeatureElevation:
		return r.Elevation, true
	case FeatureSlope:
		return r.Slope, true
	case FeatureSoilDepth:
		return r.SoilDepth, true
	case FeatureDeepSoil:
		return r.DeepSoil, true
	default:
		return math.NaN(), false
	}
}

// IsFeature reports whether name is a known internal feature.
func IsFeature(name string) bool {
	_, ok := FeatureRow{}.Feature(name)
	return ok
}

// FeatureSet is the outcome of one feature extraction.
type FeatureSet struct {
	Requested      time.Time
	Resolved       time.Time // rainfall data through this day
	Snapped        bool      // Resolved differs from Requested
	WindowStart    time.Time
	AvailableDays  int
	MissingDays    int // absent from the store, zero-filled
	UnreadableDays int // present but failed to read, zero-filled
	EPSG           int // reference grid CRS
	StaticMisses   int
	Rows           []FeatureRow
	Models         []string // registered model names, in column order
}

// ManifestFile is the manifest name inside an output directory.
const ManifestFile = "manifest.json"

// Manifest is the small JSON document written next to each feature table.
type Manifest struct {
	TargetDate      string   `json:"target_date"`
	RainfallThrough string   `json:"rainfall_through"`
	Snapped         bool     `json:"snapped"`
	WindowStart     string   `json:"window_start"`
	AvailableDays   int      `json:"available_days"`
	MissingDays     int      `json:"missing_days"`
	Rows            int      `json:"rows"`
	Models          []string `json:"models"`
	Outputs         []string `json:"outputs"`
	GeneratedUTC    string   `json:"generated_utc"`
}

// NewManifest summarises a feature set. Outputs are filled in by the writer.
func NewManifest(set *FeatureSet, generated time.Time) Manifest {
	models := set.Models
	if models == nil {
		models = []string{}
	}
	return Manifest{
		TargetDate:      set.Requested.Format(LayoutISO),
		RainfallThrough: set.Resolved.Format(LayoutISO),
		Snapped:         set.Snapped,
		WindowStart:     set.WindowStart.Format(LayoutISO),
		AvailableDays:   set.AvailableDays,
		MissingDays:     set.MissingDays + set.UnreadableDays,
		Rows:            len(set.Rows),
		Models:          models,
		Outputs:         []string{},
		GeneratedUTC:    generated.UTC().Format(time.RFC3339),
	}
}

// ProbabilityColumn is the output column name for a model's probability.
func ProbabilityColumn(model string) string {
	return "p_" + model
}
