package scape

import (
	"errors"
	"math/rand"
	"testing"
)

func newTestGridMaze(t *testing.T, size, batch, eplen int, wp float64) *GridMaze {
	t.Helper()
	m, err := NewMaze(size)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	env, err := NewGridMaze(m, GridMazeConfig{
		BatchSize:     batch,
		EpisodeLength: eplen,
		Reward:        10,
		WallPenalty:   wp,
	}, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("new grid maze: %v", err)
	}
	if err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return env
}

func TestGridMazeResetPlacesAgentsAtCenterAndGoalsOffWalls(t *testing.T) {
	env := newTestGridMaze(t, 11, 50, 10, 0)
	ctr := env.Maze().Center()
	for b := 0; b < env.BatchSize(); b++ {
		if env.Agent(b) != ctr {
			t.Fatalf("agent %d starts at %+v", b, env.Agent(b))
		}
		goal := env.Goal(b)
		if env.Maze().IsWall(goal) || goal == ctr {
			t.Fatalf("agent %d goal %+v invalid", b, goal)
		}
	}
}

func TestGridMazeObservationLayout(t *testing.T) {
	env := newTestGridMaze(t, 5, 1, 4, 0)
	obs := env.Observe(0)
	if len(obs) != 1 || len(obs[0]) != ObservationSize {
		t.Fatalf("unexpected observation shape: %d x %d", len(obs), len(obs[0]))
	}
	// open 3x3 field, time 0, reward 0, bias 1, previous action up
	want := []float64{
		0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 1,
		1, 0, 0, 0,
	}
	for i := range want {
		if obs[0][i] != want[i] {
			t.Fatalf("obs=%v want %v", obs[0], want)
		}
	}

	if err := env.SetGoal(0, Position{Row: 3, Col: 3}); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	if _, err := env.Step([]int{ActionRight}); err != nil {
		t.Fatalf("step: %v", err)
	}
	obs = env.Observe(2)
	if obs[0][9] != 0.5 {
		t.Fatalf("time progress=%f want 0.5", obs[0][9])
	}
	if obs[0][12+ActionRight] != 1 || obs[0][12] != 0 {
		t.Fatalf("previous action one-hot wrong: %v", obs[0][12:])
	}
	// agent at (2,3): right column is the border
	if obs[0][2] != 1 || obs[0][5] != 1 || obs[0][8] != 1 {
		t.Fatalf("expected border walls on the right: %v", obs[0][:9])
	}
}

func TestGridMazeWallCollisionKeepsPositionAndPenalizes(t *testing.T) {
	env := newTestGridMaze(t, 5, 1, 10, 0.25)
	if err := env.SetGoal(0, Position{Row: 3, Col: 3}); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	if _, err := env.Step([]int{ActionUp}); err != nil {
		t.Fatalf("step: %v", err)
	}
	before := env.Agent(0)
	rewards, err := env.Step([]int{ActionUp})
	if err != nil {
		t.Fatalf("step into wall: %v", err)
	}
	if env.Agent(0) != before {
		t.Fatalf("agent moved into wall: %+v -> %+v", before, env.Agent(0))
	}
	if rewards[0] != -0.25 {
		t.Fatalf("reward=%f want -0.25", rewards[0])
	}
}

func TestGridMazeGoalPickupAddsBonusAndRelocatesGoal(t *testing.T) {
	env := newTestGridMaze(t, 7, 1, 10, 0)
	for i := 0; i < 200; i++ {
		if err := env.Reset(); err != nil {
			t.Fatalf("reset: %v", err)
		}
		target := Position{Row: 3, Col: 4}
		if err := env.SetGoal(0, target); err != nil {
			t.Fatalf("set goal: %v", err)
		}
		rewards, err := env.Step([]int{ActionRight})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if rewards[0] != 10 {
			t.Fatalf("reward=%f want 10", rewards[0])
		}
		goal := env.Goal(0)
		if goal == env.Agent(0) || env.Maze().IsWall(goal) || goal == env.Maze().Center() {
			t.Fatalf("relocated goal %+v invalid (agent %+v)", goal, env.Agent(0))
		}
	}
}

func TestGridMazeRelocateAgentTeleportsAgent(t *testing.T) {
	m, err := NewMaze(7)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	env, err := NewGridMaze(m, GridMazeConfig{BatchSize: 1, EpisodeLength: 5, Reward: 1, Relocate: RelocateAgent}, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("new grid maze: %v", err)
	}
	if err := env.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	goal := Position{Row: 2, Col: 3}
	if err := env.SetGoal(0, goal); err != nil {
		t.Fatalf("set goal: %v", err)
	}
	rewards, err := env.Step([]int{ActionUp})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if rewards[0] != 1 {
		t.Fatalf("reward=%f want 1", rewards[0])
	}
	if env.Goal(0) != goal {
		t.Fatalf("goal moved in agent relocation mode: %+v", env.Goal(0))
	}
	if env.Agent(0) == goal || m.IsWall(env.Agent(0)) {
		t.Fatalf("agent teleported to invalid cell %+v", env.Agent(0))
	}
}

func TestGridMazeInvalidActionIsFatal(t *testing.T) {
	env := newTestGridMaze(t, 5, 2, 10, 0)
	_, err := env.Step([]int{ActionDown, 7})
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestGridMazeScriptedTrace(t *testing.T) {
	env := newTestGridMaze(t, 5, 1, 3, 0.5)
	if err := env.SetGoal(0, Position{Row: 1, Col: 1}); err != nil {
		t.Fatalf("set goal: %v", err)
	}

	type step struct {
		pos    Position
		reward float64
	}
	actions := []int{ActionUp, ActionLeft, ActionUp}
	want := []step{
		{Position{Row: 1, Col: 2}, 0},
		{Position{Row: 1, Col: 1}, 10},
		{Position{Row: 1, Col: 1}, -0.5},
	}
	for i, action := range actions {
		rewards, err := env.Step([]int{action})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		got := step{env.Agent(0), rewards[0]}
		if got != want[i] {
			t.Fatalf("step %d: got %+v want %+v", i, got, want[i])
		}
	}
}

func TestNewGridMazeRejectsMazeWithoutGoalCells(t *testing.T) {
	m, err := NewMaze(3)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	_, err = NewGridMaze(m, GridMazeConfig{BatchSize: 1, EpisodeLength: 1}, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrNoOpenCell) {
		t.Fatalf("expected ErrNoOpenCell, got %v", err)
	}
}
