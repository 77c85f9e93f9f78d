package analysis

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ResponseCurve traces the incremental target of one channel as its spend
// over the training window is scaled from zero upwards.
type ResponseCurve struct {
	Channel  string    `json:"channel"`
	Spend    []float64 `json:"spend"`
	Response []float64 `json:"response"`
}

// ResponseCurves evaluates every channel at points evenly spaced multipliers
// of its historical spend in [0, maxMultiplier]. Response is the posterior
// mean total target, in target units, minus the total with the channel
// switched off. spend holds the unscaled training spend of each channel.
func ResponseCurves(ctx context.Context, model Model, target TargetScaler, spend []float64, points int, maxMultiplier float64) ([]ResponseCurve, error) {
	channels := model.ChannelNames()
	if len(spend) != len(channels) {
		return nil, fmt.Errorf("%w: %d spends for %d channels", ErrCostMismatch, len(spend), len(channels))
	}
	if points < 2 {
		return nil, errors.New("response curves need at least two points")
	}
	if maxMultiplier <= 0 {
		return nil, errors.New("response curve multiplier must be positive")
	}

	base := model.Media()
	multipliers := make([]float64, points)
	floats.Span(multipliers, 0, maxMultiplier)

	total := func(media [][]float64) (float64, error) {
		mean, err := model.FittedMean(ctx, media)
		if err != nil {
			return 0, err
		}
		unscaled, err := target.InverseTransformVector(mean)
		if err != nil {
			return 0, err
		}
		return floats.Sum(unscaled), nil
	}

	curves := make([]ResponseCurve, len(channels))
	for c, name := range channels {
		curve := ResponseCurve{Channel: name, Spend: make([]float64, points), Response: make([]float64, points)}
		var off float64
		for i, k := range multipliers {
			value, err := total(scaleColumn(base, c, k))
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", name, err)
			}
			if i == 0 {
				off = value
			}
			curve.Spend[i] = k * spend[c]
			curve.Response[i] = value - off
		}
		curves[c] = curve
	}
	return curves, nil
}

func scaleColumn(media [][]float64, c int, k float64) [][]float64 {
	out := make([][]float64, len(media))
	for t, row := range media {
		cp := append([]float64(nil), row...)
		cp[c] *= k
		out[t] = cp
	}
	return out
}
