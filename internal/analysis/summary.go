package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"mmmcli/internal/mmm"
)

// ParamSummary describes the marginal posterior of one scalar parameter.
type ParamSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Median float64 `json:"median"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	ESS    float64 `json:"ess"`
	RHat   float64 `json:"r_hat"`
}

// Summarize reports point estimates, credible intervals, effective sample
// size and split R-hat for every scalar parameter.
func Summarize(post *mmm.Posterior, mass float64) []ParamSummary {
	if post == nil || post.NumDraws() == 0 {
		return nil
	}
	if mass <= 0 || mass >= 1 {
		mass = DefaultCredibleMass
	}
	labels := post.Labels()
	out := make([]ParamSummary, len(labels))
	tail := (1 - mass) / 2
	for j, name := range labels {
		chains := post.Element(j)
		all := make([]float64, 0, post.NumDraws())
		for _, c := range chains {
			all = append(all, c...)
		}
		mean, sd := stat.MeanStdDev(all, nil)
		sort.Float64s(all)
		out[j] = ParamSummary{
			Name:   name,
			Mean:   mean,
			SD:     finiteOr(sd, 0),
			Median: stat.Quantile(0.5, stat.Empirical, all, nil),
			Lower:  stat.Quantile(tail, stat.Empirical, all, nil),
			Upper:  stat.Quantile(1-tail, stat.Empirical, all, nil),
			ESS:    EffectiveSampleSize(chains),
			RHat:   SplitRHat(chains),
		}
	}
	return out
}

// SplitRHat computes the potential scale reduction factor after splitting
// every chain in half. Chains with no variation report 1.
func SplitRHat(chains [][]float64) float64 {
	split := splitChains(chains)
	if len(split) < 2 {
		return 1
	}
	n := float64(len(split[0]))
	w, b := withinBetween(split)
	if w == 0 {
		return 1
	}
	varPlus := (n-1)/n*w + b/n
	return finiteOr(math.Sqrt(varPlus/w), 1)
}

// EffectiveSampleSize estimates the number of independent draws using the
// multi-chain autocorrelation with Geyer's initial positive sequence.
func EffectiveSampleSize(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 || len(chains[0]) < 4 {
		return 0
	}
	n := len(chains[0])
	total := float64(m * n)
	w, b := withinBetween(chains)
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	if varPlus == 0 {
		return total
	}

	acov := make([][]float64, m)
	for i, c := range chains {
		acov[i] = autocovariance(c)
	}
	rho := func(t int) float64 {
		var mean float64
		for i := range acov {
			mean += acov[i][t]
		}
		mean /= float64(m)
		return 1 - (w-mean)/varPlus
	}

	// tau = -1 + 2 * sum of positive pair sums P_k = rho(2k) + rho(2k+1)
	tau := -1.0
	for t := 0; t+1 < n; t += 2 {
		pair := rho(t) + rho(t+1)
		if pair < 0 {
			break
		}
		tau += 2 * pair
	}
	if tau <= 0 {
		return total
	}
	return math.Min(total*math.Log10(total), total/tau)
}

func splitChains(chains [][]float64) [][]float64 {
	var out [][]float64
	for _, c := range chains {
		half := len(c) / 2
		if half < 2 {
			continue
		}
		out = append(out, c[:half], c[len(c)-half:])
	}
	return out
}

// withinBetween returns the mean within-chain variance W and the between
// chain variance B (scaled by n as in Gelman et al.).
func withinBetween(chains [][]float64) (w, b float64) {
	m := float64(len(chains))
	n := float64(len(chains[0]))
	means := make([]float64, len(chains))
	for i, c := range chains {
		mean, v := stat.MeanVariance(c, nil)
		means[i] = mean
		w += v / m
	}
	if len(chains) > 1 {
		b = n * stat.Variance(means, nil)
	}
	return w, b
}

// autocovariance returns the biased sample autocovariance at every lag.
func autocovariance(x []float64) []float64 {
	n := len(x)
	mean := stat.Mean(x, nil)
	out := make([]float64, n)
	for lag := 0; lag < n; lag++ {
		var acc float64
		for i := 0; i+lag < n; i++ {
			acc += (x[i] - mean) * (x[i+lag] - mean)
		}
		out[lag] = acc / float64(n)
	}
	return out
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
