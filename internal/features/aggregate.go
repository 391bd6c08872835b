package features

import (
	"errors"
	"math"
)

// Aggregates are the six rainfall features, one value per reference cell.
type Aggregates struct {
	R1d      []float64
	R3d      []float64
	R7d      []float64
	R30d     []float64
	Max3Day  []float64
	Max30Day []float64
}

// Aggregate reduces the stack over trailing spans. Sums skip missing values
// and are 0 when every value is missing; maxima are NaN in that case. Spans
// longer than the stack use every layer.
func Aggregate(s *Stack) (Aggregates, error) {
	if len(s.Layers) == 0 {
		return Aggregates{}, errors.New("empty stack")
	}
	newest := s.Layers[len(s.Layers)-1]
	r1 := make([]float64, len(newest))
	copy(r1, newest)
	return Aggregates{
		R1d:      r1,
		R3d:      reduce(s.Layers, 3, nanSum),
		R7d:      reduce(s.Layers, 7, nanSum),
		R30d:     reduce(s.Layers, 30, nanSum),
		Max3Day:  reduce(s.Layers, 3, nanMax),
		Max30Day: reduce(s.Layers, 30, nanMax),
	}, nil
}

func reduce(layers [][]float64, span int, fn func([]float64) float64) []float64 {
	tail := layers[len(layers)-min(span, len(layers)):]
	n := len(tail[0])
	out := make([]float64, n)
	col := make([]float64, len(tail))
	for i := range n {
		for j, layer := range tail {
			col[j] = layer[i]
		}
		out[i] = fn(col)
	}
	return out
}

func nanSum(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

func nanMax(vals []float64) float64 {
	m := math.NaN()
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(m) || v > m {
			m = v
		}
	}
	return m
}
