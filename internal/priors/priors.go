// Package priors provides the prior distributions a media mix model can
// place on its parameters, together with the parameter support each
// distribution implies.
package priors

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a univariate prior.
type Distribution interface {
	// LogProb returns the log density at x, or -Inf outside the support.
	LogProb(x float64) float64
	// Support returns the lower and upper bounds, possibly infinite.
	Support() (lower, upper float64)
	// Mean returns the distribution mean, used as a starting point.
	Mean() float64
	// String names the distribution and its parameters.
	String() string
}

// Normal is a Gaussian prior.
type Normal struct {
	Loc   float64
	Scale float64
}

func (d Normal) LogProb(x float64) float64 {
	return distuv.Normal{Mu: d.Loc, Sigma: d.Scale}.LogProb(x)
}
func (d Normal) Support() (float64, float64) { return math.Inf(-1), math.Inf(1) }
func (d Normal) Mean() float64               { return d.Loc }
func (d Normal) String() string              { return fmt.Sprintf("Normal(%g, %g)", d.Loc, d.Scale) }

// HalfNormal is a zero-centred Gaussian folded onto the positive axis.
type HalfNormal struct {
	Scale float64
}

func (d HalfNormal) LogProb(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return distuv.Normal{Mu: 0, Sigma: d.Scale}.LogProb(x) + math.Ln2
}
func (d HalfNormal) Support() (float64, float64) { return 0, math.Inf(1) }
func (d HalfNormal) Mean() float64               { return d.Scale * math.Sqrt(2/math.Pi) }
func (d HalfNormal) String() string              { return fmt.Sprintf("HalfNormal(%g)", d.Scale) }

// Gamma is parameterised by concentration and rate.
type Gamma struct {
	Concentration float64
	Rate          float64
}

func (d Gamma) LogProb(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return distuv.Gamma{Alpha: d.Concentration, Beta: d.Rate}.LogProb(x)
}
func (d Gamma) Support() (float64, float64) { return 0, math.Inf(1) }
func (d Gamma) Mean() float64               { return d.Concentration / d.Rate }
func (d Gamma) String() string {
	return fmt.Sprintf("Gamma(%g, %g)", d.Concentration, d.Rate)
}

// Beta lives on the open unit interval.
type Beta struct {
	Concentration1 float64
	Concentration0 float64
}

func (d Beta) LogProb(x float64) float64 {
	if x <= 0 || x >= 1 {
		return math.Inf(-1)
	}
	return distuv.Beta{Alpha: d.Concentration1, Beta: d.Concentration0}.LogProb(x)
}
func (d Beta) Support() (float64, float64) { return 0, 1 }
func (d Beta) Mean() float64 {
	return d.Concentration1 / (d.Concentration1 + d.Concentration0)
}
func (d Beta) String() string {
	return fmt.Sprintf("Beta(%g, %g)", d.Concentration1, d.Concentration0)
}

// Uniform is flat on [Low, High].
type Uniform struct {
	Low  float64
	High float64
}

func (d Uniform) LogProb(x float64) float64 {
	if x < d.Low || x > d.High {
		return math.Inf(-1)
	}
	return distuv.Uniform{Min: d.Low, Max: d.High}.LogProb(x)
}
func (d Uniform) Support() (float64, float64) { return d.Low, d.High }
func (d Uniform) Mean() float64               { return (d.Low + d.High) / 2 }
func (d Uniform) String() string              { return fmt.Sprintf("Uniform(%g, %g)", d.Low, d.High) }

// LogNormal is the exponential of a Gaussian.
type LogNormal struct {
	Loc   float64
	Scale float64
}

func (d LogNormal) LogProb(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return distuv.LogNormal{Mu: d.Loc, Sigma: d.Scale}.LogProb(x)
}
func (d LogNormal) Support() (float64, float64) { return 0, math.Inf(1) }
func (d LogNormal) Mean() float64               { return math.Exp(d.Loc + d.Scale*d.Scale/2) }
func (d LogNormal) String() string {
	return fmt.Sprintf("LogNormal(%g, %g)", d.Loc, d.Scale)
}

// Exponential is parameterised by rate.
type Exponential struct {
	Rate float64
}

func (d Exponential) LogProb(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return distuv.Exponential{Rate: d.Rate}.LogProb(x)
}
func (d Exponential) Support() (float64, float64) { return 0, math.Inf(1) }
func (d Exponential) Mean() float64               { return 1 / d.Rate }
func (d Exponential) String() string              { return fmt.Sprintf("Exponential(%g)", d.Rate) }

// Parse builds a distribution from a configuration name and its parameters.
//
// Supported names and parameter order:
//   - normal: loc, scale
//   - half_normal: scale
//   - gamma: concentration, rate
//   - beta: concentration1, concentration0
//   - uniform: low, high
//   - lognormal: loc, scale
//   - exponential: rate
func Parse(name string, params []float64) (Distribution, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	want := map[string]int{
		"normal": 2, "half_normal": 1, "gamma": 2, "beta": 2,
		"uniform": 2, "lognormal": 2, "exponential": 1,
	}
	n, ok := want[name]
	if !ok {
		return nil, fmt.Errorf("unknown prior distribution %q", name)
	}
	if len(params) != n {
		return nil, fmt.Errorf("prior %s takes %d parameters, got %d", name, n, len(params))
	}
	for _, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("prior %s has non-finite parameter %v", name, p)
		}
	}

	positive := func(idx ...int) error {
		for _, i := range idx {
			if params[i] <= 0 {
				return fmt.Errorf("prior %s parameter %d must be positive, got %v", name, i, params[i])
			}
		}
		return nil
	}

	switch name {
	case "normal":
		if err := positive(1); err != nil {
			return nil, err
		}
		return Normal{Loc: params[0], Scale: params[1]}, nil
	case "half_normal":
		if err := positive(0); err != nil {
			return nil, err
		}
		return HalfNormal{Scale: params[0]}, nil
	case "gamma":
		if err := positive(0, 1); err != nil {
			return nil, err
		}
		return Gamma{Concentration: params[0], Rate: params[1]}, nil
	case "beta":
		if err := positive(0, 1); err != nil {
			return nil, err
		}
		return Beta{Concentration1: params[0], Concentration0: params[1]}, nil
	case "uniform":
		if params[1] <= params[0] {
			return nil, fmt.Errorf("prior uniform needs low < high, got [%v, %v]", params[0], params[1])
		}
		return Uniform{Low: params[0], High: params[1]}, nil
	case "lognormal":
		if err := positive(1); err != nil {
			return nil, err
		}
		return LogNormal{Loc: params[0], Scale: params[1]}, nil
	default:
		if err := positive(0); err != nil {
			return nil, err
		}
		return Exponential{Rate: params[0]}, nil
	}
}
