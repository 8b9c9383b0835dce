package stats

import "backpropamine/internal/nn"

type CurvePoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// MovingAverage averages each point with up to window-1 predecessors.
func MovingAverage(values []float64, window int) []CurvePoint {
	if window <= 0 {
		window = 1
	}
	points := make([]CurvePoint, 0, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := window
		if i+1 < window {
			n = i + 1
		}
		points = append(points, CurvePoint{Index: i + 1, Value: sum / float64(n)})
	}
	return points
}

// Subsample keeps every step-th value starting with the first.
func Subsample(values []float64, step int) []float64 {
	if step <= 1 {
		return append([]float64(nil), values...)
	}
	out := make([]float64, 0, len(values)/step+1)
	for i := 0; i < len(values); i += step {
		out = append(out, values[i])
	}
	return out
}

// TailMean is the mean of the last n values, or of all of them when fewer
// exist.
func TailMean(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}
	if n > 0 && len(values) > n {
		values = values[len(values)-n:]
	}
	avg, _ := nn.Avg(values)
	return avg
}
