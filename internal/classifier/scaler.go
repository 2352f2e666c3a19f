package classifier

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector does not match the fitted width.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Scaler standardizes each feature to zero mean and unit variance.
// Features with zero variance are only centered.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-feature mean and population standard deviation.
func FitScaler(vectors [][]float32) (*Scaler, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("fit scaler: %w", ErrDimensionMismatch)
	}

	mean := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("fit scaler: %w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
		}
		for i, x := range v {
			mean[i] += float64(x)
		}
	}
	n := float64(len(vectors))
	for i := range mean {
		mean[i] /= n
	}

	scale := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			d := float64(x) - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / n)
		if scale[i] == 0 {
			scale[i] = 1
		}
	}

	return &Scaler{Mean: mean, Scale: scale}, nil
}

// Dim returns the fitted feature count.
func (s *Scaler) Dim() int {
	return len(s.Mean)
}

// Transform returns the standardized copy of v.
func (s *Scaler) Transform(v []float32) ([]float32, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), len(s.Mean))
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32((float64(x) - s.Mean[i]) / s.Scale[i])
	}
	return out, nil
}
