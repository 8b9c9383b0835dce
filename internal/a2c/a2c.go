// Package a2c turns a recorded episode into the advantage actor-critic loss
// and the gradient seeds of the policy logits and value estimates.
package a2c

import (
	"errors"
	"fmt"

	"backpropamine/internal/agent"
)

var ErrEmptyTrajectory = errors.New("empty trajectory")

type Options struct {
	Gamma       float64
	EntropyCoef float64
	ValueCoef   float64
	// GradThroughAdvantage lets the policy term push gradient into the value
	// estimate. It exists only to compare against the detached baseline.
	GradThroughAdvantage bool
}

type Result struct {
	Loss        float64
	PolicyLoss  float64
	ValueLoss   float64
	EntropyLoss float64

	Returns    [][]float64
	Advantages [][]float64
	DLogits    [][][]float64
	DValues    [][]float64
}

// Returns computes the discounted return of every step, walking the episode
// backwards with R <- gamma*R + r.
func Returns(rewards [][]float64, gamma float64) [][]float64 {
	out := make([][]float64, len(rewards))
	if len(rewards) == 0 {
		return out
	}
	running := make([]float64, len(rewards[0]))
	for t := len(rewards) - 1; t >= 0; t-- {
		out[t] = make([]float64, len(running))
		for b, r := range rewards[t] {
			running[b] = gamma*running[b] + r
			out[t][b] = running[b]
		}
	}
	return out
}

// Compute evaluates the episode loss
//
//	(sum_t bent*C_t - mean_b(logp*A) + blossv*mean_b(A^2)) / T
//
// where C_t is the probability concentration recorded during the rollout and
// A = R - V is treated as a constant in the policy term.
func Compute(tr *agent.Trajectory, opts Options) (Result, error) {
	steps := tr.Len()
	if steps == 0 {
		return Result{}, ErrEmptyTrajectory
	}
	batch := tr.BatchSize()
	if len(tr.Values) != steps || len(tr.LogProbs) != steps || len(tr.Probs) != steps || len(tr.Actions) != steps {
		return Result{}, fmt.Errorf("trajectory fields disagree on length %d", steps)
	}

	res := Result{
		Returns:    Returns(tr.Rewards, opts.Gamma),
		Advantages: make([][]float64, steps),
		DLogits:    make([][][]float64, steps),
		DValues:    make([][]float64, steps),
	}
	scale := 1 / float64(batch*steps)
	concentration := 0.0
	for t := steps - 1; t >= 0; t-- {
		res.Advantages[t] = make([]float64, batch)
		res.DLogits[t] = make([][]float64, batch)
		res.DValues[t] = make([]float64, batch)
		for b := 0; b < batch; b++ {
			adv := res.Returns[t][b] - tr.Values[t][b]
			res.Advantages[t][b] = adv
			res.PolicyLoss -= tr.LogProbs[t][b] * adv
			res.ValueLoss += adv * adv

			probs := tr.Probs[t][b]
			action := tr.Actions[t][b]
			if action < 0 || action >= len(probs) {
				return Result{}, fmt.Errorf("step %d member %d: action %d out of range", t, b, action)
			}
			sumSq := 0.0
			for _, p := range probs {
				sumSq += p * p
			}
			concentration += sumSq
			dl := make([]float64, len(probs))
			for a, p := range probs {
				onehot := 0.0
				if a == action {
					onehot = 1
				}
				dl[a] = -adv*scale*(onehot-p) + opts.EntropyCoef*scale*2*p*(p-sumSq)
			}
			res.DLogits[t][b] = dl

			dv := opts.ValueCoef * -2 * adv * scale
			if opts.GradThroughAdvantage {
				dv += tr.LogProbs[t][b] * scale
			}
			res.DValues[t][b] = dv
		}
	}
	if len(tr.Concentration) == steps {
		concentration = 0
		for _, c := range tr.Concentration {
			concentration += c
		}
	} else {
		concentration /= float64(batch)
	}
	res.EntropyLoss = opts.EntropyCoef * concentration

	res.PolicyLoss /= float64(batch * steps)
	res.ValueLoss /= float64(batch * steps)
	res.EntropyLoss /= float64(steps)
	res.Loss = res.PolicyLoss + res.EntropyLoss + opts.ValueCoef*res.ValueLoss
	return res, nil
}
