package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

type Config struct {
	InputSize      int
	HiddenSize     int
	ActionCount    int
	Activation     string
	PlasticityRule string
	// TraceDecay is the fraction of the plastic trace forgotten every step.
	TraceDecay float64
	// TraceLimit saturates every plastic trace entry to [-limit, limit].
	TraceLimit float64
}

// Network is a single recurrent layer whose recurrent weights are the sum of
// a slow learned matrix and a plastic trace gated per connection by alpha.
// The trace follows a Hebbian-style rule scaled by a neuromodulatory scalar
// computed from the current hidden state. Policy and value heads read the
// hidden state.
//
// Task parameters: input, recurrent and head weights. Meta parameters:
// alpha and the modulator.
type Network struct {
	cfg  Config
	act  Activation
	rule string

	InputWeights  *Param // H x I
	InputBias     *Param // H x 1
	Recurrent     *Param // H x H, row = presynaptic
	Alpha         *Param // H x H
	ModWeights    *Param // 1 x H
	ModBias       *Param // 1 x 1
	PolicyWeights *Param // A x H
	PolicyBias    *Param // A x 1
	ValueWeights  *Param // 1 x H
	ValueBias     *Param // 1 x 1
}

func New(cfg Config, rng *rand.Rand) (*Network, error) {
	n, err := build(cfg)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}

	in := 1 / math.Sqrt(float64(cfg.InputSize))
	hid := 1 / math.Sqrt(float64(cfg.HiddenSize))
	n.InputWeights.uniform(rng, -in, in)
	n.InputBias.uniform(rng, -in, in)
	n.Recurrent.uniform(rng, -hid, hid)
	n.Alpha.uniform(rng, 0, 0.01)
	n.ModWeights.uniform(rng, -hid, hid)
	n.ModBias.uniform(rng, -hid, hid)
	n.PolicyWeights.uniform(rng, -hid, hid)
	n.PolicyBias.uniform(rng, -hid, hid)
	n.ValueWeights.uniform(rng, -hid, hid)
	n.ValueBias.uniform(rng, -hid, hid)
	return n, nil
}

func build(cfg Config) (*Network, error) {
	if cfg.InputSize <= 0 || cfg.HiddenSize <= 0 || cfg.ActionCount <= 0 {
		return nil, fmt.Errorf("invalid network shape: inputs=%d hidden=%d actions=%d", cfg.InputSize, cfg.HiddenSize, cfg.ActionCount)
	}
	if cfg.Activation == "" {
		cfg.Activation = "tanh"
	}
	act, err := GetActivation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	rule := NormalizePlasticityRuleName(cfg.PlasticityRule)
	if err := validatePlasticityRule(rule, cfg.PlasticityRule); err != nil {
		return nil, err
	}
	cfg.PlasticityRule = rule
	if cfg.TraceDecay < 0 || cfg.TraceDecay >= 1 {
		return nil, fmt.Errorf("trace decay must be in [0, 1), got %g", cfg.TraceDecay)
	}
	if cfg.TraceLimit <= 0 {
		return nil, fmt.Errorf("trace limit must be > 0, got %g", cfg.TraceLimit)
	}

	h, i, a := cfg.HiddenSize, cfg.InputSize, cfg.ActionCount
	return &Network{
		cfg:           cfg,
		act:           act,
		rule:          rule,
		InputWeights:  newParam("input_weights", GroupTask, h, i),
		InputBias:     newParam("input_bias", GroupTask, h, 1),
		Recurrent:     newParam("recurrent", GroupTask, h, h),
		Alpha:         newParam("alpha", GroupMeta, h, h),
		ModWeights:    newParam("mod_weights", GroupMeta, 1, h),
		ModBias:       newParam("mod_bias", GroupMeta, 1, 1),
		PolicyWeights: newParam("policy_weights", GroupTask, a, h),
		PolicyBias:    newParam("policy_bias", GroupTask, a, 1),
		ValueWeights:  newParam("value_weights", GroupTask, 1, h),
		ValueBias:     newParam("value_bias", GroupTask, 1, 1),
	}, nil
}

func (n *Network) Config() Config {
	return n.cfg
}

// Params lists every parameter in a stable order.
func (n *Network) Params() []*Param {
	return []*Param{
		n.InputWeights, n.InputBias, n.Recurrent, n.Alpha, n.ModWeights,
		n.ModBias, n.PolicyWeights, n.PolicyBias, n.ValueWeights, n.ValueBias,
	}
}

func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.Params() {
		total += p.Size()
	}
	return total
}

// State is the per-episode recurrent state of every batch member: hidden
// activations and the plastic trace.
type State struct {
	hidden [][]float64
	trace  [][]float64
	spare  [][]float64
}

func (n *Network) NewState(batch int) *State {
	h := n.cfg.HiddenSize
	s := &State{
		hidden: make([][]float64, batch),
		trace:  make([][]float64, batch),
		spare:  make([][]float64, batch),
	}
	for b := 0; b < batch; b++ {
		s.hidden[b] = make([]float64, h)
		s.trace[b] = make([]float64, h*h)
		s.spare[b] = make([]float64, h*h)
	}
	return s
}

func (s *State) BatchSize() int {
	return len(s.hidden)
}

// Trace returns a copy of the plastic trace of member b.
func (s *State) Trace(b int) []float64 {
	return append([]float64(nil), s.trace[b]...)
}

type StepResult struct {
	PreActivation [][]float64
	Hidden        [][]float64
	Modulation    []float64
	Logits        [][]float64
	Probs         [][]float64
	Values        []float64
}

// Step advances every batch member by one time step and updates s in place.
func (n *Network) Step(inputs [][]float64, s *State) (StepResult, error) {
	batch := s.BatchSize()
	if len(inputs) != batch {
		return StepResult{}, fmt.Errorf("expected %d input rows, got %d", batch, len(inputs))
	}
	h := n.cfg.HiddenSize
	res := StepResult{
		PreActivation: make([][]float64, batch),
		Hidden:        make([][]float64, batch),
		Modulation:    make([]float64, batch),
		Logits:        make([][]float64, batch),
		Probs:         make([][]float64, batch),
		Values:        make([]float64, batch),
	}

	inputBias := mat.NewVecDense(h, n.InputBias.Data())
	policyBias := mat.NewVecDense(n.cfg.ActionCount, n.PolicyBias.Data())
	var eff mat.Dense
	for b := 0; b < batch; b++ {
		if len(inputs[b]) != n.cfg.InputSize {
			return StepResult{}, fmt.Errorf("input row %d: expected %d values, got %d", b, n.cfg.InputSize, len(inputs[b]))
		}
		x := mat.NewVecDense(n.cfg.InputSize, inputs[b])
		hPrev := mat.NewVecDense(h, s.hidden[b])
		trace := mat.NewDense(h, h, s.trace[b])

		eff.MulElem(n.Alpha.Value, trace)
		eff.Add(&eff, n.Recurrent.Value)

		var a, rec mat.VecDense
		a.MulVec(n.InputWeights.Value, x)
		a.AddVec(&a, inputBias)
		rec.MulVec(eff.T(), hPrev)
		a.AddVec(&a, &rec)

		pre := append([]float64(nil), a.RawVector().Data...)
		hidden := make([]float64, h)
		for j, v := range pre {
			hidden[j] = n.act.Func(v)
		}
		hVec := mat.NewVecDense(h, hidden)

		mod := math.Tanh(mat.Dot(mat.NewVecDense(h, n.ModWeights.Data()), hVec) + n.ModBias.Data()[0])
		updateTrace(n.rule, n.cfg.TraceDecay, n.cfg.TraceLimit, mod, s.hidden[b], hidden, s.trace[b], s.spare[b], nil)
		s.trace[b], s.spare[b] = s.spare[b], s.trace[b]
		s.hidden[b] = hidden

		var logits mat.VecDense
		logits.MulVec(n.PolicyWeights.Value, hVec)
		logits.AddVec(&logits, policyBias)

		res.PreActivation[b] = pre
		res.Hidden[b] = append([]float64(nil), hidden...)
		res.Modulation[b] = mod
		res.Logits[b] = append([]float64(nil), logits.RawVector().Data...)
		res.Probs[b] = Softmax(res.Logits[b])
		res.Values[b] = mat.Dot(mat.NewVecDense(h, n.ValueWeights.Data()), hVec) + n.ValueBias.Data()[0]
	}
	return res, nil
}

// Tape keeps what the backward pass needs from every step of one episode.
// Plastic traces are not stored; they are replayed from hidden activations
// and modulation during Backward.
type Tape struct {
	Inputs        [][][]float64
	PreActivation [][][]float64
	Hidden        [][][]float64
	Modulation    [][]float64
}

func (t *Tape) Record(inputs [][]float64, res StepResult) {
	t.Inputs = append(t.Inputs, inputs)
	t.PreActivation = append(t.PreActivation, res.PreActivation)
	t.Hidden = append(t.Hidden, res.Hidden)
	t.Modulation = append(t.Modulation, res.Modulation)
}

func (t *Tape) Len() int {
	return len(t.Hidden)
}
