// Package analysis turns a fitted media mix model into business metrics:
// per channel contribution and return on investment, baseline versus media
// decomposition, fit quality, posterior summaries and response curves.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mmmcli/internal/mmm"
)

// DefaultCredibleMass is the central interval width reported by default.
const DefaultCredibleMass = 0.9

var (
	// ErrCostMismatch is returned when costs do not cover every channel.
	ErrCostMismatch = errors.New("costs do not match model channels")
	// ErrNonPositiveCost is returned for a channel without spend.
	ErrNonPositiveCost = errors.New("channel cost must be positive")
)

// Model is the view of a fitted model the analysis needs.
type Model interface {
	Components(ctx context.Context) (*mmm.Components, error)
	FittedMean(ctx context.Context, media [][]float64) ([]float64, error)
	ChannelNames() []string
	Media() [][]float64
	Target() []float64
	Posterior() *mmm.Posterior
}

// TargetScaler maps scaled target values back to business units.
type TargetScaler interface {
	InverseTransformVector(values []float64) ([]float64, error)
}

// Interval is a posterior mean with a central credible interval.
type Interval struct {
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ChannelMetrics holds the posterior metrics of one media channel.
type ChannelMetrics struct {
	Channel           string   `json:"channel"`
	Cost              float64  `json:"cost"`
	ContributionShare Interval `json:"contribution_share"`
	Contribution      Interval `json:"contribution"`
	ROI               Interval `json:"roi"`
}

// PosteriorMetrics groups channel metrics with the interval width used.
type PosteriorMetrics struct {
	CredibleMass float64          `json:"credible_mass"`
	Channels     []ChannelMetrics `json:"channels"`
}

// ComputePosteriorMetrics attributes the predicted target to channels for
// every posterior draw and reports contribution share, contribution in
// target units and ROI against costs. Costs are the unscaled spend of each
// channel over the training window. Negative contributions are kept.
func ComputePosteriorMetrics(ctx context.Context, model Model, target TargetScaler, costs []float64, mass float64) (*PosteriorMetrics, error) {
	channels := model.ChannelNames()
	if len(costs) != len(channels) {
		return nil, fmt.Errorf("%w: %d costs for %d channels", ErrCostMismatch, len(costs), len(channels))
	}
	for c, v := range costs {
		if v <= 0 {
			return nil, fmt.Errorf("%w: %s has cost %v", ErrNonPositiveCost, channels[c], v)
		}
	}
	if mass <= 0 || mass >= 1 {
		mass = DefaultCredibleMass
	}

	comp, err := model.Components(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate model components: %w", err)
	}

	draws := len(comp.Mu)
	share := make([][]float64, len(channels))
	contribution := make([][]float64, len(channels))
	roi := make([][]float64, len(channels))
	for c := range channels {
		share[c] = make([]float64, draws)
		contribution[c] = make([]float64, draws)
		roi[c] = make([]float64, draws)
	}

	for s := 0; s < draws; s++ {
		totalScaled := floats.Sum(comp.Mu[s])
		unscaled, err := target.InverseTransformVector([]float64{totalScaled})
		if err != nil {
			return nil, fmt.Errorf("failed to unscale prediction: %w", err)
		}
		for c := range channels {
			var sum float64
			for _, row := range comp.Contributions[s] {
				sum += row[c]
			}
			if totalScaled != 0 {
				share[c][s] = sum / totalScaled
			}
			contribution[c][s] = share[c][s] * unscaled[0]
			roi[c][s] = contribution[c][s] / costs[c]
		}
	}

	out := &PosteriorMetrics{CredibleMass: mass, Channels: make([]ChannelMetrics, len(channels))}
	for c, name := range channels {
		out.Channels[c] = ChannelMetrics{
			Channel:           name,
			Cost:              costs[c],
			ContributionShare: summarize(share[c], mass),
			Contribution:      summarize(contribution[c], mass),
			ROI:               summarize(roi[c], mass),
		}
	}
	return out, nil
}

// summarize returns the mean and central interval of values. values is
// sorted in place.
func summarize(values []float64, mass float64) Interval {
	if len(values) == 0 {
		return Interval{}
	}
	mean := stat.Mean(values, nil)
	sort.Float64s(values)
	tail := (1 - mass) / 2
	return Interval{
		Mean:  mean,
		Lower: stat.Quantile(tail, stat.Empirical, values, nil),
		Upper: stat.Quantile(1-tail, stat.Empirical, values, nil),
	}
}
