// Package scaler normalises feature rows. A Scaler is fitted on training
// data only and then applied, unchanged, to validation and test data.
package scaler

import (
	"github.com/Noofbiz/modelzoo/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned by Transform before Fit.
var ErrNotFitted = errors.New("scaler used before Fit")

// Scaler learns per-feature statistics from a matrix whose columns are
// samples, and transforms matrices with the same number of rows.
type Scaler interface {
	Fit(features *tensor.Matrix) error
	Transform(in *tensor.Matrix) (*tensor.Matrix, error)
	Fitted() bool
}

// New returns the scaler registered under name: "minmax" or "standard".
func New(name string) (Scaler, error) {
	switch name {
	case "", "minmax", "min-max":
		return NewMinMax(0, 1), nil
	case "standard", "zscore":
		return &Standard{}, nil
	}
	return nil, errors.Errorf("unknown scaler %q, use \"minmax\" or \"standard\"", name)
}

// MinMax maps each feature row linearly onto [Low, High].
type MinMax struct {
	Low, High float64

	min, scale []float64
}

// NewMinMax returns an unfitted MinMax scaler targeting [low, high].
func NewMinMax(low, high float64) *MinMax {
	return &MinMax{Low: low, High: high}
}

// Fit records the minimum and range of every row. Constant rows get a range
// of 1 so they map to Low.
func (s *MinMax) Fit(features *tensor.Matrix) error {
	if features.Cols() == 0 {
		return errors.New("minmax: can't fit on zero samples")
	}
	s.min = make([]float64, features.Rows())
	s.scale = make([]float64, features.Rows())
	for i := range s.min {
		row := rowFloat64(features, i)
		lo, hi := floats.Min(row), floats.Max(row)
		s.min[i] = lo
		s.scale[i] = hi - lo
		if s.scale[i] == 0 {
			s.scale[i] = 1
		}
	}
	return nil
}

// Fitted reports whether Fit has been called.
func (s *MinMax) Fitted() bool { return s.min != nil }

// Transform returns a scaled copy of in.
func (s *MinMax) Transform(in *tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkFitted(s, len(s.min), in); err != nil {
		return nil, err
	}
	out := tensor.New(in.Rows(), in.Cols())
	span := s.High - s.Low
	for j := 0; j < in.Cols(); j++ {
		src, dst := in.Col(j), out.Col(j)
		for i, v := range src {
			dst[i] = float32((float64(v)-s.min[i])/s.scale[i]*span + s.Low)
		}
	}
	return out, nil
}

// Params returns copies of the fitted minimum and range per row.
func (s *MinMax) Params() (min, scale []float64) {
	return append([]float64(nil), s.min...), append([]float64(nil), s.scale...)
}

// Standard centres each feature row on zero mean and unit variance.
type Standard struct {
	mean, std []float64
}

// Fit records mean and standard deviation of every row. Constant rows get a
// deviation of 1.
func (s *Standard) Fit(features *tensor.Matrix) error {
	if features.Cols() == 0 {
		return errors.New("standard: can't fit on zero samples")
	}
	s.mean = make([]float64, features.Rows())
	s.std = make([]float64, features.Rows())
	for i := range s.mean {
		m, sd := stat.MeanStdDev(rowFloat64(features, i), nil)
		if sd == 0 || features.Cols() < 2 {
			sd = 1
		}
		s.mean[i], s.std[i] = m, sd
	}
	return nil
}

// Fitted reports whether Fit has been called.
func (s *Standard) Fitted() bool { return s.mean != nil }

// Transform returns a standardised copy of in.
func (s *Standard) Transform(in *tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkFitted(s, len(s.mean), in); err != nil {
		return nil, err
	}
	out := tensor.New(in.Rows(), in.Cols())
	for j := 0; j < in.Cols(); j++ {
		src, dst := in.Col(j), out.Col(j)
		for i, v := range src {
			dst[i] = float32((float64(v) - s.mean[i]) / s.std[i])
		}
	}
	return out, nil
}

// Params returns copies of the fitted mean and deviation per row.
func (s *Standard) Params() (mean, std []float64) {
	return append([]float64(nil), s.mean...), append([]float64(nil), s.std...)
}

func checkFitted(s Scaler, rows int, in *tensor.Matrix) error {
	if !s.Fitted() {
		return ErrNotFitted
	}
	if in.Rows() != rows {
		return errors.Wrapf(tensor.ErrShape, "scaler fitted on %d features, got %d", rows, in.Rows())
	}
	return nil
}

func rowFloat64(m *tensor.Matrix, i int) []float64 {
	row := make([]float64, m.Cols())
	for j := range row {
		row[j] = float64(m.At(i, j))
	}
	return row
}
