package scape

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

var (
	ErrEvenMazeSize = errors.New("maze size must be odd")
	ErrNoOpenCell   = errors.New("no open cell satisfies placement constraints")
)

// Maze is an immutable square grid of open and wall cells.
type Maze struct {
	size  int
	walls []bool
}

// NewMaze builds the pillar maze: border cells are walls, interior cells with
// an even row and an even column are walls, and the center is always open so
// the start position is distinguishable.
func NewMaze(size int) (*Maze, error) {
	if size < 3 {
		return nil, fmt.Errorf("maze size must be >= 3, got %d", size)
	}
	if size%2 == 0 {
		return nil, fmt.Errorf("%w: got %d", ErrEvenMazeSize, size)
	}

	m := &Maze{size: size, walls: make([]bool, size*size)}
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			border := row == 0 || col == 0 || row == size-1 || col == size-1
			pillar := row%2 == 0 && col%2 == 0
			m.walls[row*size+col] = border || pillar
		}
	}
	ctr := size / 2
	m.walls[ctr*size+ctr] = false
	return m, nil
}

func (m *Maze) Size() int {
	return m.size
}

func (m *Maze) Center() Position {
	return Position{Row: m.size / 2, Col: m.size / 2}
}

// IsWall treats every cell outside the grid as a wall.
func (m *Maze) IsWall(p Position) bool {
	if p.Row < 0 || p.Col < 0 || p.Row >= m.size || p.Col >= m.size {
		return true
	}
	return m.walls[p.Row*m.size+p.Col]
}

// Field returns the flattened (2*radius+1)^2 neighbourhood around p in
// row-major order, 1 for walls and 0 for open cells.
func (m *Maze) Field(p Position, radius int) []float64 {
	width := 2*radius + 1
	out := make([]float64, 0, width*width)
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if m.IsWall(Position{Row: p.Row + dr, Col: p.Col + dc}) {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

// RandomCell draws interior cells uniformly until one is open and not
// rejected. It fails fast when no cell can satisfy the constraints.
func (m *Maze) RandomCell(rng *rand.Rand, reject func(Position) bool) (Position, error) {
	if !m.hasCandidate(reject) {
		return Position{}, ErrNoOpenCell
	}
	for {
		p := Position{
			Row: rng.Intn(m.size-2) + 1,
			Col: rng.Intn(m.size-2) + 1,
		}
		if m.IsWall(p) || (reject != nil && reject(p)) {
			continue
		}
		return p, nil
	}
}

func (m *Maze) hasCandidate(reject func(Position) bool) bool {
	for row := 1; row < m.size-1; row++ {
		for col := 1; col < m.size-1; col++ {
			p := Position{Row: row, Col: col}
			if m.IsWall(p) || (reject != nil && reject(p)) {
				continue
			}
			return true
		}
	}
	return false
}

func (m *Maze) String() string {
	var b strings.Builder
	for row := 0; row < m.size; row++ {
		for col := 0; col < m.size; col++ {
			if m.IsWall(Position{Row: row, Col: col}) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
