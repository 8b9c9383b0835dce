package agent

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"backpropamine/internal/nn"
	"backpropamine/internal/scape"
)

// ActionChooser picks the action of one batch member from its policy
// probabilities.
type ActionChooser func(step, member int, probs []float64) int

// StepTrace describes one step of batch member 0.
type StepTrace struct {
	Step        int
	Observation []float64
	Probs       []float64
	Value       float64
	Modulation  float64
	Action      int
	Reward      float64
	Agent       scape.Position
	Goal        scape.Position
	HasPosition bool
}

// Trajectory is the rollout record of one episode. Every per-step slice is
// indexed [step][member].
type Trajectory struct {
	Rewards  [][]float64
	Values   [][]float64
	LogProbs [][]float64
	Probs    [][][]float64
	Actions  [][]int

	// Concentration[t] is the batch mean of sum(p^2) over the action
	// probabilities at step t.
	Concentration []float64
	Tape          *nn.Tape
}

func (tr *Trajectory) Len() int {
	return len(tr.Rewards)
}

func (tr *Trajectory) BatchSize() int {
	if len(tr.Rewards) == 0 {
		return 0
	}
	return len(tr.Rewards[0])
}

// TotalRewards returns the episode return of every batch member.
func (tr *Trajectory) TotalRewards() []float64 {
	totals := make([]float64, tr.BatchSize())
	for _, step := range tr.Rewards {
		for b, r := range step {
			totals[b] += r
		}
	}
	return totals
}

// MeanReward is the episode return averaged over the batch.
func (tr *Trajectory) MeanReward() float64 {
	totals := tr.TotalRewards()
	if len(totals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range totals {
		sum += v
	}
	return sum / float64(len(totals))
}

type positioned interface {
	Agent(b int) scape.Position
	Goal(b int) scape.Position
}

// Cortex drives a network through an environment for whole episodes.
type Cortex struct {
	net     *nn.Network
	env     scape.Environment
	steps   int
	chooser ActionChooser
	observe func(StepTrace)
}

type Option func(*Cortex)

// WithChooser replaces sampling from the policy.
func WithChooser(chooser ActionChooser) Option {
	return func(c *Cortex) {
		c.chooser = chooser
	}
}

// WithStepObserver is called after every step with the trace of member 0.
func WithStepObserver(fn func(StepTrace)) Option {
	return func(c *Cortex) {
		c.observe = fn
	}
}

func NewCortex(net *nn.Network, env scape.Environment, steps int, rng *rand.Rand, opts ...Option) (*Cortex, error) {
	if net == nil || env == nil {
		return nil, fmt.Errorf("network and environment are required")
	}
	if steps <= 0 {
		return nil, fmt.Errorf("episode length must be > 0")
	}
	cfg := net.Config()
	if cfg.InputSize != env.ObservationSize() {
		return nil, fmt.Errorf("network input size %d does not match observation size %d", cfg.InputSize, env.ObservationSize())
	}
	if cfg.ActionCount != scape.ActionCount {
		return nil, fmt.Errorf("network action count %d, environment has %d", cfg.ActionCount, scape.ActionCount)
	}
	c := &Cortex{net: net, env: env, steps: steps}
	if rng != nil {
		c.chooser = func(_, _ int, probs []float64) int {
			return nn.SampleCategorical(probs, rng)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chooser == nil {
		return nil, fmt.Errorf("random source or action chooser is required")
	}
	return c, nil
}

// RunEpisode resets the environment and a fresh recurrent state, then plays
// one episode for every batch member.
func (c *Cortex) RunEpisode(ctx context.Context) (*Trajectory, error) {
	if err := c.env.Reset(); err != nil {
		return nil, fmt.Errorf("reset %s: %w", c.env.Name(), err)
	}
	batch := c.env.BatchSize()
	state := c.net.NewState(batch)
	tr := &Trajectory{
		Rewards:  make([][]float64, 0, c.steps),
		Values:   make([][]float64, 0, c.steps),
		LogProbs: make([][]float64, 0, c.steps),
		Probs:    make([][][]float64, 0, c.steps),
		Actions:  make([][]int, 0, c.steps),

		Concentration: make([]float64, 0, c.steps),
		Tape:          &nn.Tape{},
	}
	pos, hasPos := c.env.(positioned)

	for step := 0; step < c.steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs := c.env.Observe(step)
		res, err := c.net.Step(obs, state)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		tr.Tape.Record(obs, res)

		actions := make([]int, batch)
		logProbs := make([]float64, batch)
		concentration := 0.0
		for b := 0; b < batch; b++ {
			for _, p := range res.Probs[b] {
				concentration += p * p
			}
			actions[b] = c.chooser(step, b, res.Probs[b])
			if actions[b] >= 0 && actions[b] < len(res.Probs[b]) {
				logProbs[b] = math.Log(res.Probs[b][actions[b]])
			}
		}
		rewards, err := c.env.Step(actions)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}

		tr.Rewards = append(tr.Rewards, rewards)
		tr.Values = append(tr.Values, res.Values)
		tr.LogProbs = append(tr.LogProbs, logProbs)
		tr.Probs = append(tr.Probs, res.Probs)
		tr.Actions = append(tr.Actions, actions)
		tr.Concentration = append(tr.Concentration, concentration/float64(batch))

		if c.observe != nil {
			trace := StepTrace{
				Step:        step,
				Observation: obs[0],
				Probs:       res.Probs[0],
				Value:       res.Values[0],
				Modulation:  res.Modulation[0],
				Action:      actions[0],
				Reward:      rewards[0],
				HasPosition: hasPos,
			}
			if hasPos {
				trace.Agent = pos.Agent(0)
				trace.Goal = pos.Goal(0)
			}
			c.observe(trace)
		}
	}
	return tr, nil
}

// ScriptedActions plays the same action sequence for every batch member,
// falling back to sampling once the script runs out.
func ScriptedActions(script []int, rng *rand.Rand) ActionChooser {
	return func(step, _ int, probs []float64) int {
		if step < len(script) {
			return script[step]
		}
		return nn.SampleCategorical(probs, rng)
	}
}
