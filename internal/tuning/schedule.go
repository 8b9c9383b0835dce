package tuning

import (
	"errors"

	"backpropamine/internal/nn"
)

// Schedule decides which parameter group steps on a given 1-based iteration.
// Nothing steps during burn-in; afterwards the task group steps every
// iteration and the meta group on multiples of MetaInterval.
type Schedule struct {
	BurnIn       int
	MetaInterval int
}

func (s Schedule) TaskStep(iteration int) bool {
	return iteration > s.BurnIn
}

func (s Schedule) MetaStep(iteration int) bool {
	if s.MetaInterval <= 0 {
		return false
	}
	return iteration > s.BurnIn && iteration%s.MetaInterval == 0
}

type StepReport struct {
	GradNorm float64
	Task     bool
	Meta     bool
}

// TwoTimescale owns the task and meta optimizers. Task gradients are cleared
// after every iteration; meta gradients keep accumulating until the meta
// optimizer consumes them.
type TwoTimescale struct {
	Task     Optimizer
	Meta     Optimizer
	Schedule Schedule
	MaxNorm  float64
}

func NewTwoTimescale(task, meta Optimizer, schedule Schedule, maxNorm float64) (*TwoTimescale, error) {
	if task == nil || meta == nil {
		return nil, errors.New("task and meta optimizers are required")
	}
	seen := make(map[*nn.Param]struct{}, len(task.Params()))
	for _, p := range task.Params() {
		seen[p] = struct{}{}
	}
	for _, p := range meta.Params() {
		if _, ok := seen[p]; ok {
			return nil, errors.New("parameter " + p.Name + " belongs to both groups")
		}
	}
	return &TwoTimescale{Task: task, Meta: meta, Schedule: schedule, MaxNorm: maxNorm}, nil
}

func (o *TwoTimescale) params() []*nn.Param {
	all := make([]*nn.Param, 0, len(o.Task.Params())+len(o.Meta.Params()))
	all = append(all, o.Task.Params()...)
	return append(all, o.Meta.Params()...)
}

// Update clips all gradients, applies whichever optimizers are due on
// iteration, then clears the gradients that were consumed.
func (o *TwoTimescale) Update(iteration int) StepReport {
	report := StepReport{GradNorm: ClipGradNorm(o.params(), o.MaxNorm)}
	if o.Schedule.TaskStep(iteration) {
		o.Task.Step()
		report.Task = true
	}
	if o.Schedule.MetaStep(iteration) {
		o.Meta.Step()
		nn.ZeroGrads(o.Meta.Params())
		report.Meta = true
	}
	nn.ZeroGrads(o.Task.Params())
	return report
}
