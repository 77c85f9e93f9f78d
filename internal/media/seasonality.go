package media

import "math"

// Trend returns coef * t^exponent for t = offset .. offset+periods-1.
func Trend(periods, offset int, coef, exponent float64) []float64 {
	out := make([]float64, periods)
	for i := range out {
		out[i] = coef * math.Pow(float64(offset+i), exponent)
	}
	return out
}

// FourierSeasonality evaluates sum_d gamma[d][0]*sin(2*pi*d*t/f) +
// gamma[d][1]*cos(2*pi*d*t/f) for d = 1..degrees. gamma is flattened
// degree-major with the sine coefficient first.
func FourierSeasonality(periods, offset, degrees int, frequency float64, gamma []float64) []float64 {
	out := make([]float64, periods)
	for i := range out {
		t := float64(offset + i)
		var acc float64
		for d := 1; d <= degrees; d++ {
			angle := 2 * math.Pi * float64(d) * t / frequency
			acc += gamma[2*(d-1)]*math.Sin(angle) + gamma[2*(d-1)+1]*math.Cos(angle)
		}
		out[i] = acc
	}
	return out
}

// WeekdaySeasonality repeats the seven weekday effects along the series.
func WeekdaySeasonality(periods, offset int, weekday []float64) []float64 {
	out := make([]float64, periods)
	for i := range out {
		out[i] = weekday[(offset+i)%7]
	}
	return out
}
