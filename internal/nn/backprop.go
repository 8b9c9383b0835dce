package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Backward runs backpropagation through time over one recorded episode and
// adds the result into every parameter's Grad. dLogits[t][b] and
// dValues[t][b] are the derivatives of the loss with respect to the policy
// logits and value estimate of member b at step t. Gradients flow through the
// hidden state, the modulator and the plastic trace; saturated trace entries
// pass no gradient.
func (n *Network) Backward(tape *Tape, dLogits [][][]float64, dValues [][]float64) error {
	steps := tape.Len()
	if steps == 0 {
		return nil
	}
	if len(dLogits) != steps || len(dValues) != steps {
		return fmt.Errorf("gradient seeds cover %d/%d steps, tape has %d", len(dLogits), len(dValues), steps)
	}
	batch := len(tape.Hidden[0])
	for t := 0; t < steps; t++ {
		if len(dLogits[t]) != batch || len(dValues[t]) != batch {
			return fmt.Errorf("step %d: gradient seeds cover %d/%d members, want %d", t, len(dLogits[t]), len(dValues[t]), batch)
		}
	}
	for b := 0; b < batch; b++ {
		n.backwardMember(tape, b, dLogits, dValues)
	}
	return nil
}

func (n *Network) backwardMember(tape *Tape, b int, dLogits [][][]float64, dValues [][]float64) {
	steps := tape.Len()
	h := n.cfg.HiddenSize
	actions := n.cfg.ActionCount
	decay := n.cfg.TraceDecay
	limit := n.cfg.TraceLimit

	zeros := make([]float64, h)
	zeroTrace := make([]float64, h*h)
	hiddenAt := func(t int) []float64 {
		if t < 0 {
			return zeros
		}
		return tape.Hidden[t][b]
	}

	// replay the plastic trace; raw keeps the unclipped values for the
	// saturation mask
	traces := make([][]float64, steps)
	raw := make([][]float64, steps)
	prev := zeroTrace
	for t := 0; t < steps; t++ {
		traces[t] = make([]float64, h*h)
		raw[t] = make([]float64, h*h)
		updateTrace(n.rule, decay, limit, tape.Modulation[t][b], hiddenAt(t-1), hiddenAt(t), prev, traces[t], raw[t])
		prev = traces[t]
	}
	traceAt := func(t int) []float64 {
		if t < 0 {
			return zeroTrace
		}
		return traces[t]
	}

	alpha := n.Alpha.Data()
	recurrent := n.Recurrent.Data()
	alphaGrad := n.Alpha.GradData()
	recurrentGrad := n.Recurrent.GradData()
	modWeights := n.ModWeights.Data()
	modGrad := n.ModWeights.GradData()
	valueWeights := n.ValueWeights.Data()
	valueGrad := n.ValueWeights.GradData()

	dh := make([]float64, h)
	dTrace := make([]float64, h*h)
	var headGrad mat.VecDense
	for t := steps - 1; t >= 0; t-- {
		hidden := hiddenAt(t)
		hPrev := hiddenAt(t - 1)
		tracePrev := traceAt(t - 1)
		mod := tape.Modulation[t][b]
		hVec := mat.NewVecDense(h, hidden)

		// policy and value heads
		dl := mat.NewVecDense(actions, dLogits[t][b])
		n.PolicyWeights.Grad.RankOne(n.PolicyWeights.Grad, 1, dl, hVec)
		headGrad.MulVec(n.PolicyWeights.Value.T(), dl)
		policyBiasGrad := n.PolicyBias.GradData()
		for a := 0; a < actions; a++ {
			policyBiasGrad[a] += dLogits[t][b][a]
		}
		dv := dValues[t][b]
		for j := 0; j < h; j++ {
			dh[j] += headGrad.AtVec(j) + dv*valueWeights[j]
			valueGrad[j] += dv * hidden[j]
		}
		n.ValueBias.GradData()[0] += dv

		// plastic trace update of step t
		dhPrev := make([]float64, h)
		dTracePrev := make([]float64, h*h)
		dMod := 0.0
		rawT := raw[t]
		for i := 0; i < h; i++ {
			row := i * h
			for j := 0; j < h; j++ {
				du := dTrace[row+j]
				if du == 0 || math.Abs(rawT[row+j]) > limit {
					continue
				}
				p := tracePrev[row+j]
				dMod += du * traceDelta(n.rule, hPrev[i], hidden[j], p)
				dPre, dPost, dP := traceDeltaGrad(n.rule, hPrev[i], hidden[j], p)
				dhPrev[i] += du * mod * dPre
				dh[j] += du * mod * dPost
				dTracePrev[row+j] += du * ((1 - decay) + mod*dP)
			}
		}

		// modulator
		dz := dMod * (1 - mod*mod)
		for j := 0; j < h; j++ {
			modGrad[j] += dz * hidden[j]
			dh[j] += dz * modWeights[j]
		}
		n.ModBias.GradData()[0] += dz

		// activation
		pre := tape.PreActivation[t][b]
		da := make([]float64, h)
		for j := 0; j < h; j++ {
			da[j] = dh[j] * n.act.Deriv(pre[j])
		}
		daVec := mat.NewVecDense(h, da)
		n.InputWeights.Grad.RankOne(n.InputWeights.Grad, 1, daVec, mat.NewVecDense(len(tape.Inputs[t][b]), tape.Inputs[t][b]))
		inputBiasGrad := n.InputBias.GradData()
		for j := 0; j < h; j++ {
			inputBiasGrad[j] += da[j]
		}

		// recurrent path through W + alpha*trace
		for i := 0; i < h; i++ {
			x := hPrev[i]
			row := i * h
			for j := 0; j < h; j++ {
				g := x * da[j]
				recurrentGrad[row+j] += g
				alphaGrad[row+j] += g * tracePrev[row+j]
				dTracePrev[row+j] += alpha[row+j] * g
				dhPrev[i] += (recurrent[row+j] + alpha[row+j]*tracePrev[row+j]) * da[j]
			}
		}

		dh = dhPrev
		dTrace = dTracePrev
	}
}
