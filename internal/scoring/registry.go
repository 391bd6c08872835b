// Package scoring applies named probability models to feature rows.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

// Model predicts one probability per input row. Columns are the model's
// expected input names; a NaN input may yield a NaN probability.
type Model interface {
	Predict(ctx context.Context, columns []string, rows [][]float64) ([]float64, error)
}

// ModelSpec is one entry of the registry file.
type ModelSpec struct {
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	Features []string          `yaml:"features"`
	Rename   map[string]string `yaml:"rename"`

	// logistic
	Intercept    float64            `yaml:"intercept"`
	Coefficients map[string]float64 `yaml:"coefficients"`

	// http
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InputNames returns the model's declared features under the names the model expects.
func (s ModelSpec) InputNames() []string {
	out := make([]string, len(s.Features))
	for i, f := range s.Features {
		if alias, ok := s.Rename[f]; ok && alias != "" {
			out[i] = alias
		} else {
			out[i] = f
		}
	}
	return out
}

// Builder constructs a Model of one kind.
type Builder func(spec ModelSpec) (Model, error)

type entry struct {
	spec  ModelSpec
	model Model
}

// Registry holds models in registration order.
type Registry struct {
	entries []entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds a model. Names must be unique and features known.
func (r *Registry) Register(spec ModelSpec, m Model) error {
	if spec.Name == "" {
		return errors.New("model name is required")
	}
	for _, e := range r.entries {
		if e.spec.Name == spec.Name {
			return fmt.Errorf("model %q registered twice", spec.Name)
		}
	}
	if len(spec.Features) == 0 {
		return fmt.Errorf("model %q declares no features", spec.Name)
	}
	for _, f := range spec.Features {
		if !domain.IsFeature(f) {
			return fmt.Errorf("model %q: unknown feature %q", spec.Name, f)
		}
	}
	r.entries = append(r.entries, entry{spec: spec, model: m})
	return nil
}

// Names returns model names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.spec.Name
	}
	return out
}

// Len returns the number of models.
func (r *Registry) Len() int { return len(r.entries) }

type registryFile struct {
	Models []ModelSpec `yaml:"models"`
}

// Load reads a registry file. A missing file yields an empty registry.
// builders adds kinds beyond the built-in "logistic".
func Load(path string, builders map[string]Builder) (*Registry, error) {
	reg := NewRegistry()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model registry %s: %w", path, err)
	}

	for _, spec := range file.Models {
		var build Builder
		switch spec.Kind {
		case "", "logistic":
			build = NewLogistic
		default:
			build = builders[spec.Kind]
		}
		if build == nil {
			return nil, fmt.Errorf("model %q: unknown kind %q", spec.Name, spec.Kind)
		}
		m, err := build(spec)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", spec.Name, err)
		}
		if err := reg.Register(spec, m); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Apply scores every row with every model and records the model names on
// the set. Probabilities are stored per row keyed by model name.
func (r *Registry) Apply(ctx context.Context, set *domain.FeatureSet) error {
	set.Models = r.Names()
	if len(r.entries) == 0 || len(set.Rows) == 0 {
		return nil
	}
	for i := range set.Rows {
		if set.Rows[i].Probabilities == nil {
			set.Rows[i].Probabilities = make(map[string]float64, len(r.entries))
		}
	}

	for _, e := range r.entries {
		matrix := make([][]float64, len(set.Rows))
		for i, row := range set.Rows {
			vals := make([]float64, len(e.spec.Features))
			for j, f := range e.spec.Features {
				vals[j], _ = row.Feature(f)
			}
			matrix[i] = vals
		}

		probs, err := e.model.Predict(ctx, e.spec.InputNames(), matrix)
		if err != nil {
			return fmt.Errorf("model %s: %w", e.spec.Name, err)
		}
		if len(probs) != len(set.Rows) {
			return fmt.Errorf("model %s returned %d predictions for %d rows", e.spec.Name, len(probs), len(set.Rows))
		}
		for i, p := range probs {
			if !math.IsNaN(p) && (p < 0 || p > 1) {
				return fmt.Errorf("model %s: probability %g out of range at row %d", e.spec.Name, p, i)
			}
			set.Rows[i].Probabilities[e.spec.Name] = p
		}
	}
	return nil
}
