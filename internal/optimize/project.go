package optimize

import "math"

// projectSimplex returns the Euclidean projection of v onto
// {w : lo <= w <= hi, sum(w) = 1}. The caller guarantees sum(lo) <= 1 <=
// sum(hi).
//
// The projection is clip(v - lambda, lo, hi) for the lambda that makes the
// sum one; lambda is found by bisection and the remaining rounding error is
// spread over coordinates with slack.
func projectSimplex(v, lo, hi []float64) []float64 {
	n := len(v)
	clip := func(lambda float64, dst []float64) float64 {
		var sum float64
		for i := range dst {
			dst[i] = math.Min(math.Max(v[i]-lambda, lo[i]), hi[i])
			sum += dst[i]
		}
		return sum
	}

	a, b := math.Inf(1), math.Inf(-1)
	for i := range v {
		a = math.Min(a, v[i]-hi[i])
		b = math.Max(b, v[i]-lo[i])
	}
	w := make([]float64, n)
	for iter := 0; iter < 200 && b-a > 1e-15; iter++ {
		mid := (a + b) / 2
		if clip(mid, w) > 1 {
			a = mid
		} else {
			b = mid
		}
	}
	sum := clip((a+b)/2, w)

	residual := 1 - sum
	for pass := 0; pass < 2 && residual != 0; pass++ {
		for i := range w {
			if residual > 0 {
				d := math.Min(residual, hi[i]-w[i])
				w[i] += d
				residual -= d
			} else if residual < 0 {
				d := math.Min(-residual, w[i]-lo[i])
				w[i] -= d
				residual += d
			}
		}
	}
	return w
}
