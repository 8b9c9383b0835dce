package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"backpropamine/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	snapshots   map[string]model.NetworkSnapshot
	history     map[string]model.History
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.snapshots = make(map[string]model.NetworkSnapshot)
	s.history = make(map[string]model.History)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.NetworkSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	snapshot.Tensors = cloneTensors(snapshot.Tensors)
	s.snapshots[snapshot.RunID] = snapshot
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, runID string) (model.NetworkSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[runID]
	if !ok {
		return model.NetworkSnapshot{}, false, nil
	}
	snapshot.Tensors = cloneTensors(snapshot.Tensors)
	return snapshot, true, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, runID string, history model.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[runID] = cloneHistory(history)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) (model.History, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return model.History{}, false, nil
	}
	return cloneHistory(history), true, nil
}

func cloneTensors(tensors []model.Tensor) []model.Tensor {
	out := make([]model.Tensor, len(tensors))
	for i, t := range tensors {
		t.Data = append([]float64(nil), t.Data...)
		out[i] = t
	}
	return out
}

func cloneHistory(h model.History) model.History {
	return model.History{
		Rewards:   append([]float64(nil), h.Rewards...),
		Losses:    append([]float64(nil), h.Losses...),
		GradNorms: append([]float64(nil), h.GradNorms...),
	}
}
