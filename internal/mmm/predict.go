package mmm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Prediction holds posterior predictive draws of the scaled target, one row
// per posterior draw.
type Prediction struct {
	Draws [][]float64
}

// Mean averages the draws per period.
func (p *Prediction) Mean() []float64 {
	return meanOverDraws(p.Draws)
}

// Interval returns the per period quantiles lo and hi of the draws.
func (p *Prediction) Interval(lo, hi float64) (lower, upper []float64) {
	if len(p.Draws) == 0 {
		return nil, nil
	}
	periods := len(p.Draws[0])
	lower = make([]float64, periods)
	upper = make([]float64, periods)
	col := make([]float64, len(p.Draws))
	for t := 0; t < periods; t++ {
		for i, d := range p.Draws {
			col[i] = d[t]
		}
		sort.Float64s(col)
		lower[t] = stat.Quantile(lo, stat.Empirical, col, nil)
		upper[t] = stat.Quantile(hi, stat.Empirical, col, nil)
	}
	return lower, upper
}

// Components are the deterministic sites of the model evaluated on the
// training data for every posterior draw.
type Components struct {
	// Mu is draws x periods.
	Mu [][]float64
	// Contributions is draws x periods x channels of coef_media times the
	// transformed media.
	Contributions [][][]float64
}

// Predict draws from the posterior predictive for future periods. The new
// media is appended to the training media so lagged effects carry over and
// the trend and seasonality continue from the end of training.
func (m *Model) Predict(ctx context.Context, data, extra [][]float64, seed uint64) (*Prediction, error) {
	fullMedia, fullExtra, err := m.extend(data, extra)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	offset := len(m.media)
	out := &Prediction{Draws: make([][]float64, m.posterior.NumDraws())}
	for i, x := range m.posterior.draws {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		mu := m.meanSeries(x, fullMedia, fullExtra, nil)[offset:]
		sigma := m.layout.scalar(x, ParamSigma)
		draw := make([]float64, len(mu))
		for t, v := range mu {
			draw[t] = v + sigma*rng.NormFloat64()
		}
		out.Draws[i] = draw
	}
	return out, nil
}

// PredictMean returns the posterior mean of the expected scaled target for
// future periods, without observation noise.
func (m *Model) PredictMean(ctx context.Context, data, extra [][]float64) ([]float64, error) {
	fullMedia, fullExtra, err := m.extend(data, extra)
	if err != nil {
		return nil, err
	}
	offset := len(m.media)
	sum := make([]float64, len(data))
	for i, x := range m.posterior.draws {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for t, v := range m.meanSeries(x, fullMedia, fullExtra, nil)[offset:] {
			sum[t] += v
		}
	}
	for t := range sum {
		sum[t] /= float64(m.posterior.NumDraws())
	}
	return sum, nil
}

// FittedMean returns the posterior mean of the expected scaled target over
// the training window with the training media replaced by data.
func (m *Model) FittedMean(ctx context.Context, data [][]float64) ([]float64, error) {
	if !m.Fitted() {
		return nil, ErrNotFitted
	}
	if err := m.checkMedia(data); err != nil {
		return nil, err
	}
	if len(data) != len(m.media) {
		return nil, fmt.Errorf("%w: media has %d periods, training window has %d", ErrShapeMismatch, len(data), len(m.media))
	}
	sum := make([]float64, len(data))
	for i, x := range m.posterior.draws {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for t, v := range m.meanSeries(x, data, m.extra, nil) {
			sum[t] += v
		}
	}
	for t := range sum {
		sum[t] /= float64(m.posterior.NumDraws())
	}
	return sum, nil
}

// Components evaluates mu and the media contributions on the training data
// for every posterior draw.
func (m *Model) Components(ctx context.Context) (*Components, error) {
	if !m.Fitted() {
		return nil, ErrNotFitted
	}
	n := m.posterior.NumDraws()
	out := &Components{Mu: make([][]float64, n), Contributions: make([][][]float64, n)}
	for i, x := range m.posterior.draws {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		contrib := make([][]float64, len(m.media))
		for t := range contrib {
			contrib[t] = make([]float64, m.NumChannels())
		}
		out.Mu[i] = m.meanSeries(x, m.media, m.extra, contrib)
		out.Contributions[i] = contrib
	}
	return out, nil
}

// Thinned returns a view of the fitted model that uses at most maxDraws
// posterior draws. It is meant for repeated predictions such as budget
// optimisation.
func (m *Model) Thinned(maxDraws int) *Model {
	if !m.Fitted() {
		return m
	}
	cp := *m
	cp.posterior = m.posterior.Thin(maxDraws)
	return &cp
}

func (m *Model) extend(data, extra [][]float64) ([][]float64, [][]float64, error) {
	if !m.Fitted() {
		return nil, nil, ErrNotFitted
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: no periods to predict", ErrInvalidInput)
	}
	if err := m.checkMedia(data); err != nil {
		return nil, nil, err
	}
	fullMedia := make([][]float64, 0, len(m.media)+len(data))
	fullMedia = append(append(fullMedia, m.media...), data...)

	width := m.NumExtraFeatures()
	if width == 0 {
		if len(extra) > 0 {
			return nil, nil, fmt.Errorf("%w: model was fitted without extra features", ErrShapeMismatch)
		}
		return fullMedia, nil, nil
	}
	if len(extra) != len(data) {
		return nil, nil, fmt.Errorf("%w: %d extra feature periods for %d media periods", ErrShapeMismatch, len(extra), len(data))
	}
	for t, row := range extra {
		if len(row) != width {
			return nil, nil, fmt.Errorf("%w: extra features period %d has %d columns, want %d", ErrShapeMismatch, t, len(row), width)
		}
	}
	fullExtra := make([][]float64, 0, len(m.extra)+len(extra))
	fullExtra = append(append(fullExtra, m.extra...), extra...)
	return fullMedia, fullExtra, nil
}

func (m *Model) checkMedia(data [][]float64) error {
	channels := m.NumChannels()
	for t, row := range data {
		if len(row) != channels {
			return fmt.Errorf("%w: media period %d has %d channels, want %d", ErrShapeMismatch, t, len(row), channels)
		}
	}
	return nil
}

func meanOverDraws(draws [][]float64) []float64 {
	if len(draws) == 0 {
		return nil
	}
	out := make([]float64, len(draws[0]))
	for _, d := range draws {
		for t, v := range d {
			out[t] += v
		}
	}
	for t := range out {
		out[t] /= float64(len(draws))
	}
	return out
}
