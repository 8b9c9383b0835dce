package scape

import (
	"fmt"
	"math/rand"
)

const (
	// ReceptiveField is the side of the square neighbourhood the agent sees.
	ReceptiveField = 3
	// auxiliary inputs: time progress, previous reward, bias
	auxInputs = 3

	RelocateGoal  = "goal"
	RelocateAgent = "agent"
)

// ObservationSize is the length of one observation vector.
const ObservationSize = ReceptiveField*ReceptiveField + auxInputs + ActionCount

type GridMazeConfig struct {
	BatchSize     int
	EpisodeLength int
	Reward        float64
	WallPenalty   float64
	// Relocate selects what moves when the goal is reached: the goal
	// (default) or the agent.
	Relocate string
}

// GridMaze runs BatchSize independent agents on one shared maze. Each agent
// starts every episode at the center and collects a bonus whenever it steps
// onto its goal.
type GridMaze struct {
	maze *Maze
	cfg  GridMazeConfig
	rng  *rand.Rand

	agents     []Position
	goals      []Position
	prevAction []int
	prevReward []float64
}

func NewGridMaze(maze *Maze, cfg GridMazeConfig, rng *rand.Rand) (*GridMaze, error) {
	if maze == nil {
		return nil, fmt.Errorf("maze is required")
	}
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.EpisodeLength <= 0 {
		return nil, fmt.Errorf("episode length must be > 0")
	}
	switch cfg.Relocate {
	case "":
		cfg.Relocate = RelocateGoal
	case RelocateGoal, RelocateAgent:
	default:
		return nil, fmt.Errorf("unsupported relocate mode: %s", cfg.Relocate)
	}
	ctr := maze.Center()
	if !maze.hasCandidate(func(p Position) bool { return p == ctr }) {
		return nil, fmt.Errorf("maze size %d: %w", maze.Size(), ErrNoOpenCell)
	}

	return &GridMaze{
		maze:       maze,
		cfg:        cfg,
		rng:        rng,
		agents:     make([]Position, cfg.BatchSize),
		goals:      make([]Position, cfg.BatchSize),
		prevAction: make([]int, cfg.BatchSize),
		prevReward: make([]float64, cfg.BatchSize),
	}, nil
}

func (g *GridMaze) Name() string {
	return "grid_maze"
}

func (g *GridMaze) Maze() *Maze {
	return g.maze
}

func (g *GridMaze) BatchSize() int {
	return g.cfg.BatchSize
}

func (g *GridMaze) ObservationSize() int {
	return ObservationSize
}

// Reset places every agent at the center and draws a goal for each that is
// neither a wall nor the center.
func (g *GridMaze) Reset() error {
	ctr := g.maze.Center()
	for b := range g.agents {
		goal, err := g.maze.RandomCell(g.rng, func(p Position) bool { return p == ctr })
		if err != nil {
			return err
		}
		g.goals[b] = goal
		g.agents[b] = ctr
		g.prevAction[b] = ActionUp
		g.prevReward[b] = 0
	}
	return nil
}

// Observe builds one observation per agent: receptive field, time progress,
// previous reward, bias, one-hot previous action.
func (g *GridMaze) Observe(step int) [][]float64 {
	out := make([][]float64, len(g.agents))
	rf := ReceptiveField * ReceptiveField
	for b, pos := range g.agents {
		obs := make([]float64, ObservationSize)
		copy(obs, g.maze.Field(pos, ReceptiveField/2))
		obs[rf] = float64(step) / float64(g.cfg.EpisodeLength)
		obs[rf+1] = g.prevReward[b]
		obs[rf+2] = 1.0
		obs[rf+auxInputs+g.prevAction[b]] = 1
		out[b] = obs
	}
	return out
}

// Step applies one action per agent and returns the per-agent reward. Agents
// never interact; each is resolved against its own position and goal.
func (g *GridMaze) Step(actions []int) ([]float64, error) {
	if len(actions) != len(g.agents) {
		return nil, fmt.Errorf("expected %d actions, got %d", len(g.agents), len(actions))
	}
	rewards := make([]float64, len(g.agents))
	for b, action := range actions {
		target, err := Move(g.agents[b], action)
		if err != nil {
			return nil, fmt.Errorf("agent %d action %d: %w", b, action, err)
		}

		if g.maze.IsWall(target) {
			rewards[b] -= g.cfg.WallPenalty
		} else {
			g.agents[b] = target
		}

		if g.agents[b] == g.goals[b] {
			rewards[b] += g.cfg.Reward
			if err := g.relocate(b); err != nil {
				return nil, err
			}
		}
		g.prevAction[b] = action
		g.prevReward[b] = rewards[b]
	}
	return rewards, nil
}

func (g *GridMaze) relocate(b int) error {
	if g.cfg.Relocate == RelocateAgent {
		goal := g.goals[b]
		pos, err := g.maze.RandomCell(g.rng, func(p Position) bool { return p == goal })
		if err != nil {
			return err
		}
		g.agents[b] = pos
		return nil
	}
	ctr := g.maze.Center()
	agent := g.agents[b]
	goal, err := g.maze.RandomCell(g.rng, func(p Position) bool { return p == agent || p == ctr })
	if err != nil {
		return err
	}
	g.goals[b] = goal
	return nil
}

func (g *GridMaze) Agent(b int) Position {
	return g.agents[b]
}

func (g *GridMaze) Goal(b int) Position {
	return g.goals[b]
}

// SetGoal overrides the goal of agent b, for scripted episodes.
func (g *GridMaze) SetGoal(b int, p Position) error {
	if b < 0 || b >= len(g.goals) {
		return fmt.Errorf("agent index %d out of range", b)
	}
	if g.maze.IsWall(p) {
		return fmt.Errorf("goal %+v is a wall", p)
	}
	if p == g.agents[b] {
		return fmt.Errorf("goal %+v is colocated with the agent", p)
	}
	g.goals[b] = p
	return nil
}
