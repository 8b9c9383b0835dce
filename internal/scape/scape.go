package scape

import "errors"

const (
	ActionUp = iota
	ActionDown
	ActionLeft
	ActionRight

	ActionCount = 4
)

var ErrInvalidAction = errors.New("invalid action")

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Environment is a batch of independent episodes advanced in lockstep.
type Environment interface {
	Name() string
	BatchSize() int
	ObservationSize() int
	Reset() error
	Observe(step int) [][]float64
	Step(actions []int) ([]float64, error)
}

// Move returns the position one cell away from p in the action's direction.
func Move(p Position, action int) (Position, error) {
	switch action {
	case ActionUp:
		p.Row--
	case ActionDown:
		p.Row++
	case ActionLeft:
		p.Col--
	case ActionRight:
		p.Col++
	default:
		return p, ErrInvalidAction
	}
	return p, nil
}
