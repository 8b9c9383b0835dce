package storage

import (
	"context"

	"backpropamine/internal/model"
)

// Store persists training runs: their configuration, the latest network
// snapshot and the recorded per-iteration history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveSnapshot(ctx context.Context, snapshot model.NetworkSnapshot) error
	GetSnapshot(ctx context.Context, runID string) (model.NetworkSnapshot, bool, error)
	SaveHistory(ctx context.Context, runID string, history model.History) error
	GetHistory(ctx context.Context, runID string) (model.History, bool, error)
}
