package scoring

import (
	"context"
	"fmt"
	"math"
)

// Logistic is a fitted logistic regression: p = 1 / (1 + exp(-(b0 + sum(bi*xi)))).
type Logistic struct {
	Intercept    float64
	Coefficients map[string]float64 // keyed by input name
}

// NewLogistic builds a Logistic from a spec. Every input needs a coefficient.
func NewLogistic(spec ModelSpec) (Model, error) {
	for _, name := range spec.InputNames() {
		if _, ok := spec.Coefficients[name]; !ok {
			return nil, fmt.Errorf("no coefficient for input %q", name)
		}
	}
	return &Logistic{Intercept: spec.Intercept, Coefficients: spec.Coefficients}, nil
}

func (l *Logistic) Predict(ctx context.Context, columns []string, rows [][]float64) ([]float64, error) {
	coef := make([]float64, len(columns))
	for i, c := range columns {
		b, ok := l.Coefficients[c]
		if !ok {
			return nil, fmt.Errorf("no coefficient for input %q", c)
		}
		coef[i] = b
	}

	out := make([]float64, len(rows))
	for i, row := range rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		z := l.Intercept
		for j, v := range row {
			z += coef[j] * v
		}
		// NaN inputs propagate through z.
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out, nil
}
