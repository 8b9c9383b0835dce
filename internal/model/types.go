package model

import "backpropamine/internal/config"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Tensor is one named parameter matrix in row-major order.
type Tensor struct {
	Name  string    `json:"name"`
	Group string    `json:"group"`
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
	Data  []float64 `json:"data"`
}

// NetworkSnapshot is a serialized copy of every network parameter plus the
// architecture needed to rebuild it.
type NetworkSnapshot struct {
	VersionedRecord
	RunID          string   `json:"run_id"`
	Iteration      int      `json:"iteration"`
	InputSize      int      `json:"input_size"`
	HiddenSize     int      `json:"hidden_size"`
	ActionCount    int      `json:"action_count"`
	Activation     string   `json:"activation"`
	PlasticityRule string   `json:"plasticity_rule"`
	TraceDecay     float64  `json:"trace_decay"`
	TraceLimit     float64  `json:"trace_limit"`
	Tensors        []Tensor `json:"tensors"`
}

// RunRecord is the persisted description of a training run.
type RunRecord struct {
	VersionedRecord
	RunID        string           `json:"run_id"`
	Config       config.RunConfig `json:"config"`
	CreatedAtUTC string           `json:"created_at_utc"`
}

// History holds the per-iteration series recorded during training.
type History struct {
	Rewards   []float64 `json:"rewards"`
	Losses    []float64 `json:"losses"`
	GradNorms []float64 `json:"grad_norms"`
}
