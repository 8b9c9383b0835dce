// Package tuning updates network parameters from accumulated gradients.
package tuning

import "backpropamine/internal/nn"

// Optimizer applies one update to a fixed parameter group.
type Optimizer interface {
	Name() string
	Step()
	Params() []*nn.Param
}
