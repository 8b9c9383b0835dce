package nn

import "math"

func identityDerivative(float64) float64 {
	return 1
}

func reluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func tanhDerivative(x float64) float64 {
	y := math.Tanh(x)
	return 1 - (y * y)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func sigmoidDerivative(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
}
