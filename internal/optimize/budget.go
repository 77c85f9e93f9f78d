// Package optimize searches the media allocation that maximises the model
// predicted target for a fixed total budget.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrNonPositiveBudget is returned when the budget is zero or negative.
	ErrNonPositiveBudget = errors.New("budget must be positive")
	// ErrPriceLengthMismatch is returned when prices do not cover every channel.
	ErrPriceLengthMismatch = errors.New("prices length does not match number of channels")
	// ErrNonPositivePrice is returned for a zero or negative unit price.
	ErrNonPositivePrice = errors.New("prices must be positive")
	// ErrInfeasibleBounds is returned when no allocation within the bounds spends the budget.
	ErrInfeasibleBounds = errors.New("allocation bounds cannot meet the budget")
	// ErrMissingExtraFeatures is returned when the model needs extra features for the horizon.
	ErrMissingExtraFeatures = errors.New("extra features are required for the optimisation horizon")
	// ErrInvalidRequest is returned for other malformed requests.
	ErrInvalidRequest = errors.New("invalid optimisation request")
)

// Predictor is the view of a fitted model the optimiser needs. Media and
// predictions are in scaled units.
type Predictor interface {
	NumChannels() int
	NumExtraFeatures() int
	MediaMean() []float64
	PredictMean(ctx context.Context, media, extra [][]float64) ([]float64, error)
}

// Scaler maps a per channel row or the target between scaled and unscaled units.
type Scaler interface {
	TransformRow(row []float64) ([]float64, error)
	InverseTransformRow(row []float64) ([]float64, error)
}

// TargetScaler maps scaled target values back to business units.
type TargetScaler interface {
	InverseTransformVector(values []float64) ([]float64, error)
}

// Request describes one optimisation.
type Request struct {
	// Budget is the total spend over the horizon in price units.
	Budget float64
	// Prices is the cost of one media unit per channel.
	Prices []float64
	// Periods is the horizon length. Each period receives 1/Periods of the
	// allocation.
	Periods int
	// BoundsLowerPct and BoundsUpperPct bound each channel to
	// [(1-lower)*start, (1+upper)*start] where start is the historical mix
	// scaled to the budget.
	BoundsLowerPct float64
	BoundsUpperPct float64
	// ExtraFeatures is Periods x features when the model uses them.
	ExtraFeatures [][]float64
	// BaselineAllocation is the caller's reference allocation in media
	// units. The budget-scaled historical mix is used when nil.
	BaselineAllocation []float64
	MaxIterations      int
	Tolerance          float64
}

// Result is the outcome of an optimisation.
type Result struct {
	Allocation         []float64 `json:"allocation"`
	Spend              []float64 `json:"spend"`
	BaselineAllocation []float64 `json:"baseline_allocation"`
	KPIWithOptim       float64   `json:"kpi_with_optim"`
	KPIWithoutOptim    float64   `json:"kpi_without_optim"`
	Iterations         int       `json:"iterations"`
	Converged          bool      `json:"converged"`
	LowerBounds        []float64 `json:"lower_bounds"`
	UpperBounds        []float64 `json:"upper_bounds"`
}

// Optimizer runs projected gradient ascent over the spend shares of each
// channel. Shares always sum to one, so the returned allocation spends the
// budget exactly.
type Optimizer struct {
	model  Predictor
	media  Scaler
	target TargetScaler
	logger *slog.Logger
}

// New creates an optimizer over a fitted model and the scalers it was
// trained with.
func New(model Predictor, media Scaler, target TargetScaler, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{model: model, media: media, target: target, logger: logger}
}

func (r *Request) withDefaults() {
	if r.Periods <= 0 {
		r.Periods = 1
	}
	if r.MaxIterations <= 0 {
		r.MaxIterations = 200
	}
	if r.Tolerance <= 0 {
		r.Tolerance = 1e-8
	}
	if r.BoundsLowerPct == 0 && r.BoundsUpperPct == 0 {
		r.BoundsLowerPct, r.BoundsUpperPct = 0.2, 0.2
	}
}

func (o *Optimizer) validate(req Request) error {
	channels := o.model.NumChannels()
	if !(req.Budget > 0) || math.IsInf(req.Budget, 0) {
		return fmt.Errorf("%w: got %v", ErrNonPositiveBudget, req.Budget)
	}
	if len(req.Prices) != channels {
		return fmt.Errorf("%w: %d prices for %d channels", ErrPriceLengthMismatch, len(req.Prices), channels)
	}
	for c, p := range req.Prices {
		if !(p > 0) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: channel %d has price %v", ErrNonPositivePrice, c, p)
		}
	}
	if req.BoundsLowerPct < 0 || req.BoundsLowerPct > 1 || req.BoundsUpperPct < 0 {
		return fmt.Errorf("%w: bounds must satisfy 0 <= lower <= 1 and upper >= 0", ErrInvalidRequest)
	}
	if width := o.model.NumExtraFeatures(); width > 0 {
		if len(req.ExtraFeatures) != req.Periods {
			return fmt.Errorf("%w: got %d periods of extra features, need %d", ErrMissingExtraFeatures, len(req.ExtraFeatures), req.Periods)
		}
		for t, row := range req.ExtraFeatures {
			if len(row) != width {
				return fmt.Errorf("%w: period %d has %d extra features, need %d", ErrMissingExtraFeatures, t, len(row), width)
			}
		}
	}
	if req.BaselineAllocation != nil && len(req.BaselineAllocation) != channels {
		return fmt.Errorf("%w: baseline allocation has %d channels, model has %d", ErrInvalidRequest, len(req.BaselineAllocation), channels)
	}
	return nil
}

// Optimize finds the allocation maximising the predicted target over the
// horizon. It also reports the prediction at the baseline allocation.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	req.withDefaults()
	if err := o.validate(req); err != nil {
		return nil, err
	}
	channels := o.model.NumChannels()

	start, err := o.startingAllocation(req)
	if err != nil {
		return nil, err
	}
	lower := make([]float64, channels)
	upper := make([]float64, channels)
	for c, v := range start {
		lower[c] = math.Max(v*(1-req.BoundsLowerPct), 0)
		upper[c] = v * (1 + req.BoundsUpperPct)
	}

	// work in spend shares: w = price * units / budget
	toShares := func(units []float64) []float64 {
		w := make([]float64, channels)
		for c := range w {
			w[c] = req.Prices[c] * units[c] / req.Budget
		}
		return w
	}
	toUnits := func(w []float64) []float64 {
		x := make([]float64, channels)
		for c := range x {
			x[c] = math.Max(w[c], 0) * req.Budget / req.Prices[c]
		}
		return x
	}
	lo, hi := toShares(lower), toShares(upper)
	if floats.Sum(lo) > 1+1e-12 || floats.Sum(hi) < 1-1e-12 {
		return nil, fmt.Errorf("%w: shares [%v, %v]", ErrInfeasibleBounds, floats.Sum(lo), floats.Sum(hi))
	}

	var evalErr error
	objective := func(w []float64) float64 {
		if evalErr != nil {
			return math.Inf(-1)
		}
		v, err := o.kpi(ctx, toUnits(w), req)
		if err != nil {
			evalErr = err
			return math.Inf(-1)
		}
		return v
	}

	w := projectSimplex(toShares(start), lo, hi)
	best := objective(w)
	if evalErr != nil {
		return nil, evalErr
	}

	o.logger.InfoContext(ctx, "starting budget optimisation",
		"channels", channels,
		"budget", req.Budget,
		"periods", req.Periods,
		"start_kpi", best)

	step := 0.1
	converged := false
	iter := 0
	grad := make([]float64, channels)
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-5}
	for iter = 1; iter <= req.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fd.Gradient(grad, objective, w, settings)
		if evalErr != nil {
			return nil, evalErr
		}
		norm := floats.Norm(grad, math.Inf(1))
		if norm == 0 || math.IsNaN(norm) {
			converged = true
			break
		}

		gain := 0.0
		stepped := false
		for step > 1e-9 {
			cand := make([]float64, channels)
			for c := range cand {
				cand[c] = w[c] + step*grad[c]/norm
			}
			cand = projectSimplex(cand, lo, hi)
			value := objective(cand)
			if evalErr != nil {
				return nil, evalErr
			}
			if value > best {
				gain = value - best
				w, best = cand, value
				stepped = true
				step = math.Min(step*1.5, 1)
				break
			}
			step /= 2
		}

		// fall back to a pairwise exchange when the projected step stalls
		if !stepped || gain <= req.Tolerance*math.Max(1, math.Abs(best)) {
			cand, value := exchangePair(w, grad, lo, hi, objective)
			if evalErr != nil {
				return nil, evalErr
			}
			if value > best {
				gain += value - best
				w, best = cand, value
				step = math.Max(step, 1e-3)
			}
		}
		if gain <= req.Tolerance*math.Max(1, math.Abs(best)) {
			converged = true
			break
		}
	}

	if iter > req.MaxIterations {
		iter = req.MaxIterations
	}

	baseline := req.BaselineAllocation
	if baseline == nil {
		baseline = start
	}
	without, err := o.kpi(ctx, baseline, req)
	if err != nil {
		return nil, err
	}

	alloc := toUnits(w)
	spend := make([]float64, channels)
	for c := range spend {
		spend[c] = alloc[c] * req.Prices[c]
	}
	res := &Result{
		Allocation:         alloc,
		Spend:              spend,
		BaselineAllocation: append([]float64(nil), baseline...),
		KPIWithOptim:       best,
		KPIWithoutOptim:    without,
		Iterations:         iter,
		Converged:          converged,
		LowerBounds:        lower,
		UpperBounds:        upper,
	}
	if !converged {
		o.logger.WarnContext(ctx, "budget optimisation stopped before converging",
			"iterations", iter,
			"kpi_with_optim", best)
	}
	o.logger.InfoContext(ctx, "budget optimisation finished",
		"iterations", iter,
		"converged", converged,
		"kpi_with_optim", res.KPIWithOptim,
		"kpi_without_optim", res.KPIWithoutOptim)
	return res, nil
}

// exchangePair moves spend share from the free channel with the lowest
// marginal return to the one with the highest and line-searches the amount
// moved. The sum of shares is unchanged. It returns -Inf when no pair can
// improve.
func exchangePair(w, grad, lo, hi []float64, objective func([]float64) float64) ([]float64, float64) {
	up, down := -1, -1
	for c := range w {
		if w[c] < hi[c] && (up < 0 || grad[c] > grad[up]) {
			up = c
		}
		if w[c] > lo[c] && (down < 0 || grad[c] < grad[down]) {
			down = c
		}
	}
	if up < 0 || down < 0 || up == down || !(grad[up] > grad[down]) {
		return nil, math.Inf(-1)
	}
	limit := math.Min(hi[up]-w[up], w[down]-lo[down])
	if !(limit > 0) {
		return nil, math.Inf(-1)
	}
	at := func(t float64) []float64 {
		x := append([]float64(nil), w...)
		x[up] += t
		x[down] -= t
		return x
	}

	// golden-section search, the objective is concave along the pair
	const phi = 0.6180339887498949
	a, b := 0.0, limit
	t1, t2 := b-phi*(b-a), a+phi*(b-a)
	f1, f2 := objective(at(t1)), objective(at(t2))
	for i := 0; i < 60 && b-a > 1e-13*limit; i++ {
		if f1 < f2 {
			a, t1, f1 = t1, t2, f2
			t2 = a + phi*(b-a)
			f2 = objective(at(t2))
		} else {
			b, t2, f2 = t2, t1, f1
			t1 = b - phi*(b-a)
			f1 = objective(at(t1))
		}
	}
	cand := at((a + b) / 2)
	value := objective(cand)
	if edge := at(limit); objective(edge) > value {
		cand, value = edge, objective(edge)
	}
	return cand, value
}

// startingAllocation scales the historical mean media mix over the horizon
// so that it spends the budget exactly.
func (o *Optimizer) startingAllocation(req Request) ([]float64, error) {
	mean, err := o.media.InverseTransformRow(o.model.MediaMean())
	if err != nil {
		return nil, fmt.Errorf("failed to unscale media mean: %w", err)
	}
	var cost float64
	for c, v := range mean {
		mean[c] = v * float64(req.Periods)
		cost += mean[c] * req.Prices[c]
	}
	if !(cost > 0) {
		return nil, fmt.Errorf("%w: historical media has no spend", ErrInvalidRequest)
	}
	mult := req.Budget / cost
	for c := range mean {
		mean[c] *= mult
	}
	return mean, nil
}

// kpi is the total predicted target, in target units, when units of media
// are spread evenly over the horizon.
func (o *Optimizer) kpi(ctx context.Context, units []float64, req Request) (float64, error) {
	perPeriod := make([]float64, len(units))
	for c, v := range units {
		perPeriod[c] = v / float64(req.Periods)
	}
	scaled, err := o.media.TransformRow(perPeriod)
	if err != nil {
		return 0, err
	}
	media := make([][]float64, req.Periods)
	for t := range media {
		media[t] = scaled
	}
	pred, err := o.model.PredictMean(ctx, media, req.ExtraFeatures)
	if err != nil {
		return 0, err
	}
	unscaled, err := o.target.InverseTransformVector(pred)
	if err != nil {
		return 0, err
	}
	return floats.Sum(unscaled), nil
}
