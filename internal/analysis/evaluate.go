package analysis

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrLengthMismatch is returned when actual and predicted series differ.
var ErrLengthMismatch = errors.New("actual and predicted lengths differ")

// FitQuality scores predictions against observations. MAPE is a percentage
// and skips periods where the actual value is zero.
type FitQuality struct {
	MAPE    float64 `json:"mape"`
	RSquare float64 `json:"r_square"`
	RMSE    float64 `json:"rmse"`
	Periods int     `json:"periods"`
}

// Evaluate compares predicted with actual values.
func Evaluate(actual, predicted []float64) (FitQuality, error) {
	if len(actual) != len(predicted) {
		return FitQuality{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return FitQuality{}, fmt.Errorf("%w: no periods", ErrLengthMismatch)
	}

	var sq, ape float64
	var apeN int
	for i, a := range actual {
		d := predicted[i] - a
		sq += d * d
		if a != 0 {
			ape += math.Abs(d / a)
			apeN++
		}
	}
	q := FitQuality{
		RMSE:    math.Sqrt(sq / float64(len(actual))),
		Periods: len(actual),
	}
	if apeN > 0 {
		q.MAPE = 100 * ape / float64(apeN)
	}
	if stat.Variance(actual, nil) > 0 && len(actual) > 1 {
		q.RSquare = stat.RSquaredFrom(predicted, actual, nil)
	}
	return q, nil
}
