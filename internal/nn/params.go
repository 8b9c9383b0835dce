package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Group partitions parameters between the per-iteration task optimizer and
// the slower meta optimizer.
type Group string

const (
	GroupTask Group = "task"
	GroupMeta Group = "meta"
)

// Param is one trainable matrix with its accumulated gradient. Vectors are
// stored as n x 1 (or 1 x n) matrices.
type Param struct {
	Name  string
	Group Group
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, group Group, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Group: group,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Data exposes the contiguous row-major backing slice of the value.
func (p *Param) Data() []float64 {
	return p.Value.RawMatrix().Data
}

func (p *Param) GradData() []float64 {
	return p.Grad.RawMatrix().Data
}

func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

func (p *Param) uniform(rng *rand.Rand, lo, hi float64) {
	data := p.Data()
	for i := range data {
		data[i] = lo + (hi-lo)*rng.Float64()
	}
}

// SelectGroup keeps the params belonging to group, preserving order.
func SelectGroup(params []*Param, group Group) []*Param {
	out := make([]*Param, 0, len(params))
	for _, p := range params {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
