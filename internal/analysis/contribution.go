package analysis

import (
	"context"
	"fmt"
)

// ContributionFrame decomposes the posterior mean prediction of the training
// window into a baseline and one series per channel, in target units.
type ContributionFrame struct {
	Channels  []string    `json:"channels"`
	Baseline  []float64   `json:"baseline"`
	Media     [][]float64 `json:"media"`
	Actual    []float64   `json:"actual"`
	Predicted []float64   `json:"predicted"`
}

// BaselineContribution builds the decomposition. Components may be negative;
// use Clipped for display.
func BaselineContribution(ctx context.Context, model Model, target TargetScaler) (*ContributionFrame, error) {
	comp, err := model.Components(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate model components: %w", err)
	}
	channels := model.ChannelNames()
	draws := float64(len(comp.Mu))
	periods := len(model.Target())

	meanMu := make([]float64, periods)
	meanContrib := make([][]float64, len(channels))
	for c := range meanContrib {
		meanContrib[c] = make([]float64, periods)
	}
	for s := range comp.Mu {
		for t := 0; t < periods; t++ {
			meanMu[t] += comp.Mu[s][t] / draws
			for c := range channels {
				meanContrib[c][t] += comp.Contributions[s][t][c] / draws
			}
		}
	}

	baseline := make([]float64, periods)
	for t := range baseline {
		baseline[t] = meanMu[t]
		for c := range channels {
			baseline[t] -= meanContrib[c][t]
		}
	}

	frame := &ContributionFrame{Channels: channels, Media: make([][]float64, periods)}
	if frame.Baseline, err = target.InverseTransformVector(baseline); err != nil {
		return nil, err
	}
	if frame.Predicted, err = target.InverseTransformVector(meanMu); err != nil {
		return nil, err
	}
	if frame.Actual, err = target.InverseTransformVector(model.Target()); err != nil {
		return nil, err
	}
	unscaled := make([][]float64, len(channels))
	for c := range channels {
		if unscaled[c], err = target.InverseTransformVector(meanContrib[c]); err != nil {
			return nil, err
		}
	}
	for t := range frame.Media {
		row := make([]float64, len(channels))
		for c := range channels {
			row[c] = unscaled[c][t]
		}
		frame.Media[t] = row
	}
	return frame, nil
}

// Clipped returns a copy with negative baseline and media values set to
// zero. The underlying metrics are unaffected.
func (f *ContributionFrame) Clipped() *ContributionFrame {
	out := &ContributionFrame{
		Channels:  append([]string(nil), f.Channels...),
		Baseline:  clipNegative(f.Baseline),
		Media:     make([][]float64, len(f.Media)),
		Actual:    append([]float64(nil), f.Actual...),
		Predicted: append([]float64(nil), f.Predicted...),
	}
	for t, row := range f.Media {
		out.Media[t] = clipNegative(row)
	}
	return out
}

// Totals sums baseline and each channel over the window.
func (f *ContributionFrame) Totals() (baseline float64, media []float64) {
	media = make([]float64, len(f.Channels))
	for t, row := range f.Media {
		baseline += f.Baseline[t]
		for c, v := range row {
			media[c] += v
		}
	}
	return baseline, media
}

func clipNegative(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}
