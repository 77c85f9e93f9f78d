package mmm

import (
	"fmt"
	"math"
	"sort"

	"mmmcli/internal/priors"
)

// Parameter names shared by every model variant.
const (
	ParamIntercept         = "intercept"
	ParamSigma             = "sigma"
	ParamCoefTrend         = "coef_trend"
	ParamExpoTrend         = "expo_trend"
	ParamCoefMedia         = "coef_media"
	ParamGammaSeasonality  = "gamma_seasonality"
	ParamWeekday           = "weekday"
	ParamCoefExtraFeatures = "coef_extra_features"
)

// Parameter names of the media transforms.
const (
	ParamLagWeight                     = "lag_weight"
	ParamExponent                      = "exponent"
	ParamHalfMaxEffectiveConcentration = "half_max_effective_concentration"
	ParamSlope                         = "slope"
	ParamRetentionRate                 = "ad_effect_retention_rate"
	ParamPeakEffectDelay               = "peak_effect_delay"
)

// DefaultPriors returns the prior of every scalar parameter family a model
// variant uses. coef_media is absent: its default is HalfNormal(media
// prior) per channel and depends on the data.
func DefaultPriors(name ModelName) map[string]priors.Distribution {
	out := map[string]priors.Distribution{
		ParamIntercept:         priors.HalfNormal{Scale: 2},
		ParamSigma:             priors.Gamma{Concentration: 1, Rate: 1},
		ParamCoefTrend:         priors.Normal{Loc: 0, Scale: 1},
		ParamExpoTrend:         priors.Uniform{Low: 0.5, High: 1.5},
		ParamGammaSeasonality:  priors.Normal{Loc: 0, Scale: 1},
		ParamWeekday:           priors.Normal{Loc: 0, Scale: 0.5},
		ParamCoefExtraFeatures: priors.Normal{Loc: 0, Scale: 1},
	}
	for k, v := range transformPriors(name) {
		out[k] = v
	}
	return out
}

func transformPriors(name ModelName) map[string]priors.Distribution {
	switch name {
	case ModelAdstock:
		return map[string]priors.Distribution{
			ParamLagWeight: priors.Beta{Concentration1: 2, Concentration0: 1},
			ParamExponent:  priors.Beta{Concentration1: 9, Concentration0: 1},
		}
	case ModelHillAdstock:
		return map[string]priors.Distribution{
			ParamLagWeight:                     priors.Beta{Concentration1: 2, Concentration0: 1},
			ParamHalfMaxEffectiveConcentration: priors.Gamma{Concentration: 1, Rate: 1},
			ParamSlope:                         priors.Gamma{Concentration: 1, Rate: 1},
		}
	case ModelCarryover:
		return map[string]priors.Distribution{
			ParamRetentionRate:   priors.Beta{Concentration1: 1, Concentration0: 1},
			ParamPeakEffectDelay: priors.HalfNormal{Scale: 2},
			ParamExponent:        priors.Beta{Concentration1: 9, Concentration0: 1},
		}
	default:
		return nil
	}
}

// transformParamOrder lists the per-channel transform parameters in the
// order they are laid out in the parameter vector.
func transformParamOrder(name ModelName) []string {
	switch name {
	case ModelAdstock:
		return []string{ParamLagWeight, ParamExponent}
	case ModelHillAdstock:
		return []string{ParamLagWeight, ParamHalfMaxEffectiveConcentration, ParamSlope}
	case ModelCarryover:
		return []string{ParamRetentionRate, ParamPeakEffectDelay, ParamExponent}
	default:
		return nil
	}
}

// block is a contiguous run of the parameter vector sharing one name.
type block struct {
	name      string
	offset    int
	dists     []priors.Distribution
	bijectors []priors.Bijector
}

func (b block) size() int { return len(b.dists) }

// layout maps named parameters onto a flat vector and converts between the
// unconstrained sampling space and the constrained parameter space.
type layout struct {
	blocks []block
	index  map[string]int
	dim    int
}

func newLayout() *layout {
	return &layout{index: make(map[string]int)}
}

func (l *layout) add(name string, dists ...priors.Distribution) {
	if len(dists) == 0 {
		return
	}
	b := block{name: name, offset: l.dim, dists: dists, bijectors: make([]priors.Bijector, len(dists))}
	for i, d := range dists {
		b.bijectors[i] = priors.BijectorFor(d)
	}
	l.index[name] = len(l.blocks)
	l.blocks = append(l.blocks, b)
	l.dim += len(dists)
}

func (l *layout) has(name string) bool {
	_, ok := l.index[name]
	return ok
}

// view returns the slice of x holding the named block, or nil.
func (l *layout) view(x []float64, name string) []float64 {
	i, ok := l.index[name]
	if !ok {
		return nil
	}
	b := l.blocks[i]
	return x[b.offset : b.offset+b.size()]
}

// scalar returns the single value of a one-element block.
func (l *layout) scalar(x []float64, name string) float64 {
	v := l.view(x, name)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// constrain writes the constrained image of u into x and returns the summed
// log Jacobian determinant.
func (l *layout) constrain(u, x []float64) float64 {
	var ldj float64
	for _, b := range l.blocks {
		for i, bij := range b.bijectors {
			v, j := bij.Forward(u[b.offset+i])
			x[b.offset+i] = v
			ldj += j
		}
	}
	return ldj
}

func (l *layout) unconstrain(x []float64) []float64 {
	u := make([]float64, l.dim)
	for _, b := range l.blocks {
		for i, bij := range b.bijectors {
			u[b.offset+i] = bij.Inverse(x[b.offset+i])
		}
	}
	return u
}

func (l *layout) logPrior(x []float64) float64 {
	var lp float64
	for _, b := range l.blocks {
		for i, d := range b.dists {
			lp += d.LogProb(x[b.offset+i])
			if math.IsInf(lp, -1) {
				return lp
			}
		}
	}
	return lp
}

func (l *layout) means() []float64 {
	x := make([]float64, l.dim)
	for _, b := range l.blocks {
		for i, d := range b.dists {
			x[b.offset+i] = d.Mean()
		}
	}
	return x
}

// names expands the layout into one label per element, e.g. coef_media[1].
func (l *layout) names() []string {
	out := make([]string, 0, l.dim)
	for _, b := range l.blocks {
		if b.size() == 1 && !isVectorParam(b.name) {
			out = append(out, b.name)
			continue
		}
		for i := 0; i < b.size(); i++ {
			out = append(out, fmt.Sprintf("%s[%d]", b.name, i))
		}
	}
	return out
}

func isVectorParam(name string) bool {
	switch name {
	case ParamIntercept, ParamSigma, ParamCoefTrend, ParamExpoTrend:
		return false
	default:
		return true
	}
}

func repeat(d priors.Distribution, n int) []priors.Distribution {
	out := make([]priors.Distribution, n)
	for i := range out {
		out[i] = d
	}
	return out
}

// buildLayout assembles the parameter vector for a model variant. Custom
// priors replace the default of a whole parameter family.
func buildLayout(name ModelName, channels, extra, degrees int, weekday bool, mediaPrior []float64, custom map[string]priors.Distribution) (*layout, error) {
	defaults := DefaultPriors(name)
	allowed := map[string]bool{ParamCoefMedia: true}
	for k := range defaults {
		allowed[k] = true
	}
	var unknown []string
	for k := range custom {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %v for model %s", ErrUnknownPrior, unknown, name)
	}

	pick := func(param string) priors.Distribution {
		if d, ok := custom[param]; ok {
			return d
		}
		return defaults[param]
	}

	l := newLayout()
	l.add(ParamIntercept, pick(ParamIntercept))
	l.add(ParamSigma, pick(ParamSigma))
	l.add(ParamCoefTrend, pick(ParamCoefTrend))
	l.add(ParamExpoTrend, pick(ParamExpoTrend))

	coefMedia := make([]priors.Distribution, channels)
	for c := range coefMedia {
		if d, ok := custom[ParamCoefMedia]; ok {
			coefMedia[c] = d
			continue
		}
		coefMedia[c] = priors.HalfNormal{Scale: mediaPrior[c]}
	}
	l.add(ParamCoefMedia, coefMedia...)

	for _, param := range transformParamOrder(name) {
		l.add(param, repeat(pick(param), channels)...)
	}
	l.add(ParamGammaSeasonality, repeat(pick(ParamGammaSeasonality), 2*degrees)...)
	if weekday {
		l.add(ParamWeekday, repeat(pick(ParamWeekday), 7)...)
	}
	l.add(ParamCoefExtraFeatures, repeat(pick(ParamCoefExtraFeatures), extra)...)
	return l, nil
}
