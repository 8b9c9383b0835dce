package tuning

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"backpropamine/internal/nn"
)

const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	// WeightDecay adds WeightDecay*param to every gradient before the
	// moment update.
	WeightDecay float64
}

// Adam keeps first and second moment estimates for every parameter it owns.
type Adam struct {
	cfg    AdamConfig
	params []*nn.Param
	first  [][]float64
	second [][]float64
	steps  int
	buf    []float64
}

func NewAdam(params []*nn.Param, cfg AdamConfig) (*Adam, error) {
	if len(params) == 0 {
		return nil, errors.New("adam needs at least one parameter")
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.New("adam learning rate must be > 0")
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = DefaultBeta1
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = DefaultBeta2
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	a := &Adam{cfg: cfg, params: params}
	for _, p := range params {
		a.first = append(a.first, make([]float64, p.Size()))
		a.second = append(a.second, make([]float64, p.Size()))
	}
	return a, nil
}

func (a *Adam) Name() string {
	return "adam"
}

func (a *Adam) Params() []*nn.Param {
	return a.params
}

func (a *Adam) Step() {
	a.steps++
	correct1 := 1 - math.Pow(a.cfg.Beta1, float64(a.steps))
	correct2 := 1 - math.Pow(a.cfg.Beta2, float64(a.steps))
	stepSize := a.cfg.LearningRate / correct1

	for i, p := range a.params {
		value := p.Data()
		grad := p.GradData()
		if cap(a.buf) < len(grad) {
			a.buf = make([]float64, len(grad))
		}
		g := a.buf[:len(grad)]
		copy(g, grad)
		if a.cfg.WeightDecay != 0 {
			floats.AddScaled(g, a.cfg.WeightDecay, value)
		}

		m := a.first[i]
		v := a.second[i]
		floats.Scale(a.cfg.Beta1, m)
		floats.AddScaled(m, 1-a.cfg.Beta1, g)
		floats.Scale(a.cfg.Beta2, v)
		for k, gk := range g {
			v[k] += (1 - a.cfg.Beta2) * gk * gk
		}
		for k := range value {
			denom := math.Sqrt(v[k])/math.Sqrt(correct2) + a.cfg.Epsilon
			value[k] -= stepSize * m[k] / denom
		}
	}
}
