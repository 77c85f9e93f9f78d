package mmm

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"mmmcli/internal/media"
)

// logDensity is the unnormalised log posterior at an unconstrained point,
// including the Jacobian of the support transforms.
func (m *Model) logDensity(u []float64) float64 {
	x := make([]float64, len(u))
	ldj := m.layout.constrain(u, x)
	lp := m.layout.logPrior(x)
	if !finite(lp) || !finite(ldj) {
		return math.Inf(-1)
	}

	mu := m.meanSeries(x, m.media, m.extra, nil)
	obs := distuv.Normal{Mu: 0, Sigma: m.layout.scalar(x, ParamSigma)}
	for t, y := range m.target {
		lp += obs.LogProb(y - mu[t])
	}
	if !finite(lp) {
		return math.Inf(-1)
	}
	return lp + ldj
}

// meanSeries evaluates the expected scaled target for one parameter draw x.
// The time index starts at zero on the first row of data. When
// contributions is non-nil it receives coef_media * transformed media per
// period and channel.
func (m *Model) meanSeries(x []float64, data, extra [][]float64, contributions [][]float64) []float64 {
	l := m.layout
	periods := len(data)

	mu := media.Trend(periods, 0, l.scalar(x, ParamCoefTrend), l.scalar(x, ParamExpoTrend))
	seasonality := media.FourierSeasonality(periods, 0, m.opts.DegreesSeasonality, m.opts.SeasonalityFrequency, l.view(x, ParamGammaSeasonality))
	intercept := l.scalar(x, ParamIntercept)
	for t := range mu {
		mu[t] += intercept + seasonality[t]
	}
	if m.opts.WeekdaySeasonality {
		for t, v := range media.WeekdaySeasonality(periods, 0, l.view(x, ParamWeekday)) {
			mu[t] += v
		}
	}
	if coefs := l.view(x, ParamCoefExtraFeatures); len(coefs) > 0 {
		for t, row := range extra {
			for j, v := range row {
				mu[t] += coefs[j] * v
			}
		}
	}

	coefMedia := l.view(x, ParamCoefMedia)
	column := make([]float64, periods)
	for c := range coefMedia {
		for t, row := range data {
			column[t] = row[c]
		}
		transformed := m.transformChannel(x, c, column)
		for t, v := range transformed {
			contrib := coefMedia[c] * v
			mu[t] += contrib
			if contributions != nil {
				contributions[t][c] = contrib
			}
		}
	}
	return mu
}

// transformChannel applies the model's media transform to one channel.
func (m *Model) transformChannel(x []float64, c int, column []float64) []float64 {
	l := m.layout
	switch m.name {
	case ModelAdstock:
		lagged := media.Adstock(column, l.view(x, ParamLagWeight)[c], true)
		return media.ApplyExponentSafe(lagged, l.view(x, ParamExponent)[c])
	case ModelHillAdstock:
		lagged := media.Adstock(column, l.view(x, ParamLagWeight)[c], true)
		return media.Hill(lagged, l.view(x, ParamHalfMaxEffectiveConcentration)[c], l.view(x, ParamSlope)[c])
	case ModelCarryover:
		lagged := media.Carryover(column, l.view(x, ParamRetentionRate)[c], l.view(x, ParamPeakEffectDelay)[c], media.DefaultCarryoverLags)
		return media.ApplyExponentSafe(lagged, l.view(x, ParamExponent)[c])
	default:
		return column
	}
}
