package priors

import "math"

type bijectorKind int

const (
	identity bijectorKind = iota
	lowerBounded
	upperBounded
	interval
)

// Bijector maps an unconstrained real onto the support of a distribution so
// samplers can move freely in R^n.
type Bijector struct {
	kind         bijectorKind
	lower, upper float64
}

// BijectorFor picks the transform matching the support of d.
func BijectorFor(d Distribution) Bijector {
	lo, hi := d.Support()
	switch {
	case math.IsInf(lo, -1) && math.IsInf(hi, 1):
		return Bijector{kind: identity}
	case math.IsInf(hi, 1):
		return Bijector{kind: lowerBounded, lower: lo}
	case math.IsInf(lo, -1):
		return Bijector{kind: upperBounded, upper: hi}
	default:
		return Bijector{kind: interval, lower: lo, upper: hi}
	}
}

// Forward maps u to the support and returns log|dx/du|.
func (b Bijector) Forward(u float64) (x, logDetJacobian float64) {
	switch b.kind {
	case lowerBounded:
		return b.lower + math.Exp(u), u
	case upperBounded:
		return b.upper - math.Exp(u), u
	case interval:
		width := b.upper - b.lower
		s := 1 / (1 + math.Exp(-u))
		return b.lower + width*s, math.Log(width) - softplus(-u) - softplus(u)
	default:
		return u, 0
	}
}

// Inverse maps a point of the support back to the real line. Points on the
// boundary are nudged inside.
func (b Bijector) Inverse(x float64) float64 {
	const eps = 1e-12
	switch b.kind {
	case lowerBounded:
		return math.Log(math.Max(x-b.lower, eps))
	case upperBounded:
		return math.Log(math.Max(b.upper-x, eps))
	case interval:
		p := (x - b.lower) / (b.upper - b.lower)
		p = math.Min(math.Max(p, eps), 1-eps)
		return math.Log(p / (1 - p))
	default:
		return x
	}
}

func softplus(v float64) float64 {
	return math.Log1p(math.Exp(-math.Abs(v))) + math.Max(v, 0)
}
