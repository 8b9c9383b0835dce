package nn

import (
	"math"
	"math/rand"
	"testing"
)

type gradFixture struct {
	inputs  [][][]float64
	dLogits [][][]float64
	dValues [][]float64
}

func newGradFixture(rng *rand.Rand, steps, batch, inputs, actions int) gradFixture {
	f := gradFixture{
		inputs:  make([][][]float64, steps),
		dLogits: make([][][]float64, steps),
		dValues: make([][]float64, steps),
	}
	for t := 0; t < steps; t++ {
		f.inputs[t] = make([][]float64, batch)
		f.dLogits[t] = make([][]float64, batch)
		f.dValues[t] = make([]float64, batch)
		for b := 0; b < batch; b++ {
			f.inputs[t][b] = randomVector(rng, inputs)
			f.dLogits[t][b] = randomVector(rng, actions)
			f.dValues[t][b] = rng.NormFloat64()
		}
	}
	return f
}

func randomVector(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

// linearLoss is sum_t sum_b dLogits.logits + dValues*value, whose gradient
// seeds are exactly dLogits and dValues.
func (f gradFixture) linearLoss(t *testing.T, n *Network, tape *Tape) float64 {
	t.Helper()
	state := n.NewState(len(f.inputs[0]))
	loss := 0.0
	for step, in := range f.inputs {
		res, err := n.Step(in, state)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if tape != nil {
			tape.Record(in, res)
		}
		for b := range in {
			for a, c := range f.dLogits[step][b] {
				loss += c * res.Logits[b][a]
			}
			loss += f.dValues[step][b] * res.Values[b]
		}
	}
	return loss
}

// saturatedEntries replays the fixture and counts trace entries pinned at
// the limit over every step and batch member.
func (f gradFixture) saturatedEntries(t *testing.T, n *Network) int {
	t.Helper()
	limit := n.Config().TraceLimit
	state := n.NewState(len(f.inputs[0]))
	count := 0
	for _, in := range f.inputs {
		if _, err := n.Step(in, state); err != nil {
			t.Fatalf("step: %v", err)
		}
		for b := range in {
			for _, v := range state.Trace(b) {
				if math.Abs(v) == limit {
					count++
				}
			}
		}
	}
	return count
}

// checkGradients compares Backward against central differences and returns
// how many trace entries saturated along the way.
func checkGradients(t *testing.T, cfg Config) int {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	n, err := New(cfg, rng)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	// larger alpha so the plastic path carries a visible gradient
	for i := range n.Alpha.Data() {
		n.Alpha.Data()[i] = rng.NormFloat64() * 0.5
	}
	// mostly positive modulation so traces grow steadily
	n.ModBias.Data()[0] = 1.2
	f := newGradFixture(rng, 5, 2, cfg.InputSize, cfg.ActionCount)

	tape := &Tape{}
	f.linearLoss(t, n, tape)
	if err := n.Backward(tape, f.dLogits, f.dValues); err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-6
	for _, p := range n.Params() {
		data := p.Data()
		grad := p.GradData()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := f.linearLoss(t, n, nil)
			data[i] = orig - eps
			minus := f.linearLoss(t, n, nil)
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			tol := 1e-5 + 1e-4*math.Max(math.Abs(numeric), math.Abs(grad[i]))
			if math.Abs(numeric-grad[i]) > tol {
				t.Fatalf("%s[%d]: analytic=%.8f numeric=%.8f", p.Name, i, grad[i], numeric)
			}
		}
	}
	return f.saturatedEntries(t, n)
}

func TestBackwardMatchesFiniteDifferencesHebbian(t *testing.T) {
	checkGradients(t, Config{
		InputSize:      5,
		HiddenSize:     4,
		ActionCount:    4,
		Activation:     "tanh",
		PlasticityRule: PlasticityHebbian,
		TraceDecay:     0.1,
		TraceLimit:     100,
	})
}

func TestBackwardMatchesFiniteDifferencesOja(t *testing.T) {
	checkGradients(t, Config{
		InputSize:      3,
		HiddenSize:     5,
		ActionCount:    4,
		Activation:     "sigmoid",
		PlasticityRule: PlasticityOja,
		TraceDecay:     0,
		TraceLimit:     100,
	})
}

func TestBackwardMatchesFiniteDifferencesSaturatedHebbian(t *testing.T) {
	saturated := checkGradients(t, Config{
		InputSize:      5,
		HiddenSize:     4,
		ActionCount:    4,
		Activation:     "tanh",
		PlasticityRule: PlasticityHebbian,
		TraceDecay:     0.1,
		TraceLimit:     0.15,
	})
	if saturated == 0 {
		t.Fatal("expected some trace entries to saturate")
	}
}

func TestBackwardMatchesFiniteDifferencesSaturatedOja(t *testing.T) {
	saturated := checkGradients(t, Config{
		InputSize:      3,
		HiddenSize:     5,
		ActionCount:    4,
		Activation:     "sigmoid",
		PlasticityRule: PlasticityOja,
		TraceDecay:     0.2,
		TraceLimit:     0.1,
	})
	if saturated == 0 {
		t.Fatal("expected some trace entries to saturate")
	}
}

func TestBackwardAccumulatesAcrossCalls(t *testing.T) {
	cfg := Config{InputSize: 3, HiddenSize: 3, ActionCount: 4, PlasticityRule: PlasticityHebbian, TraceLimit: 2}
	rng := rand.New(rand.NewSource(5))
	n, err := New(cfg, rng)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	f := newGradFixture(rng, 3, 1, cfg.InputSize, cfg.ActionCount)
	tape := &Tape{}
	f.linearLoss(t, n, tape)

	if err := n.Backward(tape, f.dLogits, f.dValues); err != nil {
		t.Fatalf("backward: %v", err)
	}
	once := append([]float64(nil), n.Recurrent.GradData()...)
	if err := n.Backward(tape, f.dLogits, f.dValues); err != nil {
		t.Fatalf("backward: %v", err)
	}
	for i, g := range n.Recurrent.GradData() {
		if math.Abs(g-2*once[i]) > 1e-12 {
			t.Fatalf("grad[%d]=%f want %f", i, g, 2*once[i])
		}
	}
}

func TestBackwardRejectsMismatchedSeeds(t *testing.T) {
	cfg := Config{InputSize: 3, HiddenSize: 3, ActionCount: 4, TraceLimit: 2}
	rng := rand.New(rand.NewSource(5))
	n, err := New(cfg, rng)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	f := newGradFixture(rng, 3, 1, cfg.InputSize, cfg.ActionCount)
	tape := &Tape{}
	f.linearLoss(t, n, tape)
	if err := n.Backward(tape, f.dLogits[:2], f.dValues[:2]); err == nil {
		t.Fatal("expected seed length error")
	}
}
