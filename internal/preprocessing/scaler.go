// Package preprocessing scales model inputs into the unit-free range the
// media mix model is fitted on and maps results back to business units.
package preprocessing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrZeroDivisor is returned when a column statistic used as divisor is zero.
	ErrZeroDivisor = errors.New("scaler divisor is zero")
	// ErrNotFitted is returned when a transform is requested before Fit.
	ErrNotFitted = errors.New("scaler is not fitted")
	// ErrShapeMismatch is returned when data does not match the fitted shape.
	ErrShapeMismatch = errors.New("data shape does not match fitted scaler")
	// ErrEmptyData is returned when Fit receives no observations.
	ErrEmptyData = errors.New("no data to fit scaler")
)

// Operation names a column statistic used as the scaling divisor.
type Operation string

const (
	OperationMean   Operation = "mean"
	OperationMedian Operation = "median"
	OperationMax    Operation = "max"
	OperationSum    Operation = "sum"
)

// ParseOperation maps a configuration string onto an Operation.
func ParseOperation(name string) (Operation, error) {
	switch op := Operation(name); op {
	case OperationMean, OperationMedian, OperationMax, OperationSum:
		return op, nil
	case "":
		return OperationMean, nil
	default:
		return "", fmt.Errorf("unknown scaler operation %q", name)
	}
}

// Reduce computes the statistic over values.
func (o Operation) Reduce(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyData
	}
	switch o {
	case OperationMean, "":
		return stat.Mean(values, nil), nil
	case OperationMax:
		return floats.Max(values), nil
	case OperationSum:
		return floats.Sum(values), nil
	case OperationMedian:
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2, nil
		}
		return sorted[mid], nil
	default:
		return 0, fmt.Errorf("unknown scaler operation %q", o)
	}
}

// CustomScaler divides every column by a statistic learned at Fit time and
// optionally multiplies by a constant. A fixed divisor can be supplied
// instead of a statistic.
//
// Fitting a vector yields one divisor that applies to every value. Fitting a
// matrix yields one divisor per column.
type CustomScaler struct {
	operation  Operation
	divideBy   float64
	multiplyBy float64

	divisors []float64
	vector   bool
}

// ScalerOption configures a CustomScaler.
type ScalerOption func(*CustomScaler)

// WithOperation selects the column statistic used as divisor.
func WithOperation(op Operation) ScalerOption {
	return func(s *CustomScaler) { s.operation = op }
}

// WithDivideBy fixes the divisor instead of learning it from data.
func WithDivideBy(v float64) ScalerOption {
	return func(s *CustomScaler) { s.divideBy = v }
}

// WithMultiplyBy sets the constant applied after division.
func WithMultiplyBy(v float64) ScalerOption {
	return func(s *CustomScaler) { s.multiplyBy = v }
}

// NewCustomScaler creates a scaler dividing by the column mean unless
// configured otherwise.
func NewCustomScaler(opts ...ScalerOption) *CustomScaler {
	s := &CustomScaler{operation: OperationMean, multiplyBy: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fitted reports whether Fit or FitVector has succeeded.
func (s *CustomScaler) Fitted() bool { return s.divisors != nil }

// Divisors returns a copy of the learned divisors.
func (s *CustomScaler) Divisors() []float64 {
	out := make([]float64, len(s.divisors))
	copy(out, s.divisors)
	return out
}

// MultiplyBy returns the post-division constant.
func (s *CustomScaler) MultiplyBy() float64 { return s.multiplyBy }

// FitVector learns a single divisor from a series.
func (s *CustomScaler) FitVector(values []float64) error {
	if len(values) == 0 {
		return ErrEmptyData
	}
	d, err := s.divisorFor(values)
	if err != nil {
		return err
	}
	s.divisors = []float64{d}
	s.vector = true
	return nil
}

// Fit learns one divisor per column of a rows x columns matrix.
func (s *CustomScaler) Fit(data [][]float64) error {
	cols, err := columnCount(data)
	if err != nil {
		return err
	}
	divisors := make([]float64, cols)
	column := make([]float64, len(data))
	for j := 0; j < cols; j++ {
		for i := range data {
			column[i] = data[i][j]
		}
		d, err := s.divisorFor(column)
		if err != nil {
			return fmt.Errorf("column %d: %w", j, err)
		}
		divisors[j] = d
	}
	s.divisors = divisors
	s.vector = false
	return nil
}

// FitTransform fits the scaler and returns the scaled matrix.
func (s *CustomScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}

// FitTransformVector fits a vector scaler and returns the scaled series.
func (s *CustomScaler) FitTransformVector(values []float64) ([]float64, error) {
	if err := s.FitVector(values); err != nil {
		return nil, err
	}
	return s.TransformVector(values)
}

// Transform scales a matrix with the learned divisors.
func (s *CustomScaler) Transform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v, d float64) float64 { return v / d * s.multiplyBy })
}

// InverseTransform maps a scaled matrix back to original units.
func (s *CustomScaler) InverseTransform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v, d float64) float64 { return v / s.multiplyBy * d })
}

// TransformRow scales a single observation, one value per column.
func (s *CustomScaler) TransformRow(row []float64) ([]float64, error) {
	out, err := s.Transform([][]float64{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InverseTransformRow maps a single scaled observation back.
func (s *CustomScaler) InverseTransformRow(row []float64) ([]float64, error) {
	out, err := s.InverseTransform([][]float64{row})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// TransformVector scales a series with a vector-fitted scaler.
func (s *CustomScaler) TransformVector(values []float64) ([]float64, error) {
	if err := s.vectorReady(); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / s.divisors[0] * s.multiplyBy
	}
	return out, nil
}

// InverseTransformVector maps a scaled series back with a vector-fitted scaler.
func (s *CustomScaler) InverseTransformVector(values []float64) ([]float64, error) {
	if err := s.vectorReady(); err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v / s.multiplyBy * s.divisors[0]
	}
	return out, nil
}

func (s *CustomScaler) divisorFor(values []float64) (float64, error) {
	if s.multiplyBy == 0 || math.IsNaN(s.multiplyBy) {
		return 0, fmt.Errorf("invalid multiplier %v", s.multiplyBy)
	}
	d := s.divideBy
	if d == 0 {
		var err error
		if d, err = s.operation.Reduce(values); err != nil {
			return 0, err
		}
	}
	if d == 0 {
		return 0, ErrZeroDivisor
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("non-finite divisor %v", d)
	}
	return d, nil
}

func (s *CustomScaler) vectorReady() error {
	if s.divisors == nil {
		return ErrNotFitted
	}
	if !s.vector {
		return fmt.Errorf("%w: scaler was fitted on %d columns, not a series", ErrShapeMismatch, len(s.divisors))
	}
	return nil
}

func (s *CustomScaler) apply(data [][]float64, fn func(v, d float64) float64) ([][]float64, error) {
	if s.divisors == nil {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(data))
	for i, row := range data {
		if !s.vector && len(row) != len(s.divisors) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), len(s.divisors))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			d := s.divisors[0]
			if !s.vector {
				d = s.divisors[j]
			}
			scaled[j] = fn(v, d)
		}
		out[i] = scaled
	}
	return out, nil
}

func columnCount(data [][]float64) (int, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return 0, ErrEmptyData
	}
	cols := len(data[0])
	for i, row := range data {
		if len(row) != cols {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), cols)
		}
	}
	return cols, nil
}
