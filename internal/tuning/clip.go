package tuning

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"backpropamine/internal/nn"
)

// ClipGradNorm rescales every gradient so the global L2 norm is at most
// maxNorm and returns the norm measured before clipping. A non-positive
// maxNorm only measures.
func ClipGradNorm(params []*nn.Param, maxNorm float64) float64 {
	sumSq := 0.0
	for _, p := range params {
		g := p.GradData()
		sumSq += floats.Dot(g, g)
	}
	total := math.Sqrt(sumSq)
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	coef := maxNorm / (total + 1e-6)
	for _, p := range params {
		floats.Scale(coef, p.GradData())
	}
	return total
}
