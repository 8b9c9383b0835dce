package scape

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewMazeBordersAreWallsAndCenterIsOpen(t *testing.T) {
	for _, size := range []int{5, 7, 9, 11, 13} {
		m, err := NewMaze(size)
		if err != nil {
			t.Fatalf("new maze %d: %v", size, err)
		}
		for i := 0; i < size; i++ {
			for _, p := range []Position{{0, i}, {size - 1, i}, {i, 0}, {i, size - 1}} {
				if !m.IsWall(p) {
					t.Fatalf("size %d: border cell %+v is open", size, p)
				}
			}
		}
		if m.IsWall(m.Center()) {
			t.Fatalf("size %d: center is a wall", size)
		}
	}
}

func TestNewMazePillarPattern(t *testing.T) {
	m, err := NewMaze(9)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	for row := 1; row < 8; row++ {
		for col := 1; col < 8; col++ {
			p := Position{Row: row, Col: col}
			want := row%2 == 0 && col%2 == 0
			if p == m.Center() {
				want = false
			}
			if m.IsWall(p) != want {
				t.Fatalf("cell %+v wall=%v want %v", p, m.IsWall(p), want)
			}
		}
	}
}

func TestNewMazeRejectsEvenAndTinySizes(t *testing.T) {
	if _, err := NewMaze(10); !errors.Is(err, ErrEvenMazeSize) {
		t.Fatalf("expected ErrEvenMazeSize, got %v", err)
	}
	if _, err := NewMaze(1); err == nil {
		t.Fatal("expected size error")
	}
}

func TestMazeFieldAroundCenter(t *testing.T) {
	m, err := NewMaze(7)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	// center (3,3); pillars at (2,2) (2,4) (4,2) (4,4)
	field := m.Field(m.Center(), 1)
	want := []float64{1, 0, 1, 0, 0, 0, 1, 0, 1}
	for i := range want {
		if field[i] != want[i] {
			t.Fatalf("field=%v want %v", field, want)
		}
	}
}

func TestRandomCellHonoursRejectAndWalls(t *testing.T) {
	m, err := NewMaze(5)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	rng := rand.New(rand.NewSource(3))
	ctr := m.Center()
	for i := 0; i < 500; i++ {
		p, err := m.RandomCell(rng, func(p Position) bool { return p == ctr })
		if err != nil {
			t.Fatalf("random cell: %v", err)
		}
		if m.IsWall(p) || p == ctr {
			t.Fatalf("unexpected cell %+v", p)
		}
	}
}

func TestRandomCellFailsWhenNothingQualifies(t *testing.T) {
	m, err := NewMaze(3)
	if err != nil {
		t.Fatalf("new maze: %v", err)
	}
	ctr := m.Center()
	_, err = m.RandomCell(rand.New(rand.NewSource(1)), func(p Position) bool { return p == ctr })
	if !errors.Is(err, ErrNoOpenCell) {
		t.Fatalf("expected ErrNoOpenCell, got %v", err)
	}
}
