package mmm

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

const (
	targetAcceptance = 0.234
	initialProposal  = 0.1
	maxInitAttempts  = 100
	ctxCheckInterval = 64
)

type chainResult struct {
	draws       [][]float64
	accepted    int
	divergences int
	stepSize    float64
}

func (r *chainResult) acceptanceRate() float64 {
	if len(r.draws) == 0 {
		return 0
	}
	return float64(r.accepted) / float64(len(r.draws))
}

// sampler runs one adaptive random walk Metropolis chain in the
// unconstrained parameter space.
//
// Warmup tunes a global proposal scale towards the optimal acceptance rate
// and, at the half-way point and at the end, replaces the proposal shape
// with the empirical covariance of recent warmup draws.
type sampler struct {
	logp          func([]float64) float64
	layout        *layout
	warmup        int
	samples       int
	mapIterations int
	rng           *rand.Rand
}

func newSampler(logp func([]float64) float64, l *layout, opts FitOptions, seed, chain uint64) *sampler {
	return &sampler{
		logp:          logp,
		layout:        l,
		warmup:        opts.NumberWarmup,
		samples:       opts.NumberSamples,
		mapIterations: opts.MAPIterations,
		rng:           rand.New(rand.NewPCG(seed, chain)),
	}
}

func (s *sampler) run(ctx context.Context) (*chainResult, error) {
	d := s.layout.dim
	u, err := s.initialPoint()
	if err != nil {
		return nil, err
	}
	lp := s.logp(u)

	logScale := math.Log(2.38 / math.Sqrt(float64(d)))
	var chol *mat.TriDense

	z := make([]float64, d)
	step := make([]float64, d)
	prop := make([]float64, d)
	window := make([][]float64, 0, s.warmup/2+1)
	res := &chainResult{draws: make([][]float64, 0, s.samples)}

	total := s.warmup + s.samples
	for i := 0; i < total; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		warm := i < s.warmup

		for j := range z {
			z[j] = s.rng.NormFloat64()
		}
		if chol != nil {
			var v mat.VecDense
			v.MulVec(chol, mat.NewVecDense(d, z))
			for j := range step {
				step[j] = v.AtVec(j)
			}
		} else {
			for j := range step {
				step[j] = initialProposal * z[j]
			}
		}
		scale := math.Exp(logScale)
		for j := range prop {
			prop[j] = u[j] + scale*step[j]
		}

		lpProp := s.logp(prop)
		alpha := 0.0
		if finite(lpProp) {
			alpha = math.Min(1, math.Exp(lpProp-lp))
		} else if !warm {
			res.divergences++
		}
		if s.rng.Float64() < alpha {
			copy(u, prop)
			lp = lpProp
			if !warm {
				res.accepted++
			}
		}

		if warm {
			logScale += math.Pow(float64(i+1), -0.6) * (alpha - targetAcceptance)
			if i >= s.warmup/4 {
				window = append(window, append([]float64(nil), u...))
			}
			if i == s.warmup/2 || i == s.warmup-1 {
				if l := proposalCholesky(window, d); l != nil {
					if chol == nil {
						logScale = math.Log(2.38 / math.Sqrt(float64(d)))
					}
					chol = l
				}
				window = window[:0]
			}
			continue
		}

		x := make([]float64, d)
		s.layout.constrain(u, x)
		res.draws = append(res.draws, x)
	}
	res.stepSize = math.Exp(logScale)
	return res, nil
}

// initialPoint jitters the prior means until the density is finite and then
// climbs towards the posterior mode.
func (s *sampler) initialPoint() ([]float64, error) {
	base := s.layout.unconstrain(s.layout.means())
	start := make([]float64, len(base))
	found := false
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		for j := range start {
			start[j] = base[j] + (2*s.rng.Float64() - 1)
		}
		if finite(s.logp(start)) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no starting point with finite density after %d attempts", ErrInvalidInput, maxInitAttempts)
	}
	if s.mapIterations <= 0 {
		return start, nil
	}
	return s.mapEstimate(start), nil
}

func (s *sampler) mapEstimate(start []float64) []float64 {
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			lp := s.logp(u)
			if !finite(lp) {
				return 1e300
			}
			return -lp
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.mapIterations,
		FuncEvaluations: 4 * s.mapIterations,
	}
	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if result == nil || len(result.X) != len(start) {
		return start
	}
	if err != nil && !finite(result.F) {
		return start
	}
	if !finite(s.logp(result.X)) {
		return start
	}
	return append([]float64(nil), result.X...)
}

// proposalCholesky factors the regularised empirical covariance of the
// window. It returns nil when the window is too short or degenerate.
func proposalCholesky(window [][]float64, d int) *mat.TriDense {
	n := len(window)
	if n <= d {
		return nil
	}
	data := mat.NewDense(n, d, nil)
	for i, row := range window {
		data.SetRow(i, row)
	}
	cov := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var trace float64
	for j := 0; j < d; j++ {
		trace += cov.At(j, j)
	}
	if trace/float64(d) < 1e-12 {
		return nil
	}
	for j := 0; j < d; j++ {
		cov.SetSym(j, j, cov.At(j, j)+1e-6)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l
}
