package a2c

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"backpropamine/internal/agent"
	"backpropamine/internal/nn"
)

func TestReturnsAreDiscountedBackwards(t *testing.T) {
	got := Returns([][]float64{{1, 0}, {0, 2}, {10, 0}}, 0.5)
	want := [][]float64{{1 + 0.5*0 + 0.25*10, 0 + 0.5*2}, {5, 2}, {10, 0}}
	for step := range want {
		for b := range want[step] {
			if math.Abs(got[step][b]-want[step][b]) > 1e-12 {
				t.Fatalf("R[%d][%d]=%f want %f", step, b, got[step][b], want[step][b])
			}
		}
	}
}

type episode struct {
	logits  [][][]float64
	values  [][]float64
	rewards [][]float64
	actions [][]int
}

func randomEpisode(rng *rand.Rand, steps, batch int) episode {
	e := episode{
		logits:  make([][][]float64, steps),
		values:  make([][]float64, steps),
		rewards: make([][]float64, steps),
		actions: make([][]int, steps),
	}
	for t := 0; t < steps; t++ {
		e.logits[t] = make([][]float64, batch)
		e.values[t] = make([]float64, batch)
		e.rewards[t] = make([]float64, batch)
		e.actions[t] = make([]int, batch)
		for b := 0; b < batch; b++ {
			e.logits[t][b] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
			e.values[t][b] = rng.NormFloat64()
			e.rewards[t][b] = float64(rng.Intn(3)) - 0.5
			e.actions[t][b] = rng.Intn(4)
		}
	}
	return e
}

func (e episode) trajectory() *agent.Trajectory {
	tr := &agent.Trajectory{Rewards: e.rewards, Values: e.values, Actions: e.actions}
	for t := range e.logits {
		probs := make([][]float64, len(e.logits[t]))
		logp := make([]float64, len(e.logits[t]))
		for b, l := range e.logits[t] {
			probs[b] = nn.Softmax(l)
			logp[b] = math.Log(probs[b][e.actions[t][b]])
		}
		tr.Probs = append(tr.Probs, probs)
		tr.LogProbs = append(tr.LogProbs, logp)
	}
	return tr
}

// lossWithFrozenAdvantage recomputes the loss with the policy term weighted by
// the given constant advantages.
func lossWithFrozenAdvantage(t *testing.T, e episode, opts Options, frozen [][]float64) float64 {
	t.Helper()
	res, err := Compute(e.trajectory(), opts)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if frozen == nil {
		return res.Loss
	}
	tr := e.trajectory()
	policy := 0.0
	for step := range tr.LogProbs {
		for b, lp := range tr.LogProbs[step] {
			policy -= lp * frozen[step][b]
		}
	}
	policy /= float64(len(tr.LogProbs) * len(tr.LogProbs[0]))
	return policy + res.EntropyLoss + opts.ValueCoef*res.ValueLoss
}

func TestGradientSeedsMatchFiniteDifferences(t *testing.T) {
	for _, through := range []bool{false, true} {
		rng := rand.New(rand.NewSource(3))
		e := randomEpisode(rng, 4, 3)
		opts := Options{Gamma: 0.9, EntropyCoef: 0.03, ValueCoef: 0.1, GradThroughAdvantage: through}
		res, err := Compute(e.trajectory(), opts)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		var frozen [][]float64
		if !through {
			frozen = res.Advantages
		}

		const eps = 1e-6
		for step := range e.logits {
			for b := range e.logits[step] {
				for a := range e.logits[step][b] {
					orig := e.logits[step][b][a]
					e.logits[step][b][a] = orig + eps
					plus := lossWithFrozenAdvantage(t, e, opts, frozen)
					e.logits[step][b][a] = orig - eps
					minus := lossWithFrozenAdvantage(t, e, opts, frozen)
					e.logits[step][b][a] = orig
					numeric := (plus - minus) / (2 * eps)
					if math.Abs(numeric-res.DLogits[step][b][a]) > 1e-7 {
						t.Fatalf("through=%v dlogits[%d][%d][%d]=%g numeric=%g", through, step, b, a, res.DLogits[step][b][a], numeric)
					}
				}
				orig := e.values[step][b]
				e.values[step][b] = orig + eps
				plus := lossWithFrozenAdvantage(t, e, opts, frozen)
				e.values[step][b] = orig - eps
				minus := lossWithFrozenAdvantage(t, e, opts, frozen)
				e.values[step][b] = orig
				numeric := (plus - minus) / (2 * eps)
				if math.Abs(numeric-res.DValues[step][b]) > 1e-7 {
					t.Fatalf("through=%v dvalues[%d][%d]=%g numeric=%g", through, step, b, res.DValues[step][b], numeric)
				}
			}
		}
	}
}

func TestDetachedAdvantageLeavesValueGradientToValueLoss(t *testing.T) {
	e := randomEpisode(rand.New(rand.NewSource(9)), 5, 2)
	detached, err := Compute(e.trajectory(), Options{Gamma: 0.9, EntropyCoef: 0.03, ValueCoef: 0})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for step, row := range detached.DValues {
		for b, dv := range row {
			if dv != 0 {
				t.Fatalf("value gradient %g at [%d][%d] without a value loss", dv, step, b)
			}
		}
	}

	ablated, err := Compute(e.trajectory(), Options{Gamma: 0.9, EntropyCoef: 0.03, ValueCoef: 0, GradThroughAdvantage: true})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	nonZero := false
	for _, row := range ablated.DValues {
		for _, dv := range row {
			if dv != 0 {
				nonZero = true
			}
		}
	}
	if !nonZero {
		t.Fatal("expected the ablated policy term to reach the value estimate")
	}
	if ablated.Loss != detached.Loss {
		t.Fatalf("stop-gradient must not change the loss value: %f vs %f", ablated.Loss, detached.Loss)
	}
}

func TestEntropyPenaltyGrowsWithConcentration(t *testing.T) {
	build := func(probs []float64) *agent.Trajectory {
		return &agent.Trajectory{
			Rewards:  [][]float64{{0}},
			Values:   [][]float64{{0}},
			LogProbs: [][]float64{{math.Log(probs[0])}},
			Probs:    [][][]float64{{probs}},
			Actions:  [][]int{{0}},
		}
	}
	opts := Options{Gamma: 0.9, EntropyCoef: 1}
	flat, err := Compute(build([]float64{0.25, 0.25, 0.25, 0.25}), opts)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	peaked, err := Compute(build([]float64{0.97, 0.01, 0.01, 0.01}), opts)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if flat.EntropyLoss != 0.25 || peaked.EntropyLoss <= flat.EntropyLoss {
		t.Fatalf("flat=%f peaked=%f", flat.EntropyLoss, peaked.EntropyLoss)
	}
}

func TestRecordedConcentrationIsUsed(t *testing.T) {
	tr := &agent.Trajectory{
		Rewards:       [][]float64{{1}, {0}},
		Values:        [][]float64{{0}, {0}},
		LogProbs:      [][]float64{{math.Log(0.25)}, {math.Log(0.25)}},
		Probs:         [][][]float64{{{0.25, 0.25, 0.25, 0.25}}, {{0.25, 0.25, 0.25, 0.25}}},
		Actions:       [][]int{{1}, {2}},
		Concentration: []float64{0.25, 0.75},
	}
	res, err := Compute(tr, Options{Gamma: 1, EntropyCoef: 2})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if math.Abs(res.EntropyLoss-1) > 1e-12 {
		t.Fatalf("entropy loss=%f want 1", res.EntropyLoss)
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	if _, err := Compute(&agent.Trajectory{}, Options{}); !errors.Is(err, ErrEmptyTrajectory) {
		t.Fatalf("expected ErrEmptyTrajectory, got %v", err)
	}
	tr := &agent.Trajectory{
		Rewards:  [][]float64{{0}},
		Values:   [][]float64{{0}},
		LogProbs: [][]float64{{0}},
		Probs:    [][][]float64{{{1, 0, 0, 0}}},
		Actions:  [][]int{{7}},
	}
	if _, err := Compute(tr, Options{}); err == nil {
		t.Fatal("expected action range error")
	}
}
