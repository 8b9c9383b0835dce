package nn

import (
	"fmt"

	"backpropamine/internal/model"
)

const (
	SnapshotSchemaVersion = 1
	SnapshotCodecVersion  = 1
)

func (n *Network) Snapshot(runID string, iteration int) model.NetworkSnapshot {
	params := n.Params()
	tensors := make([]model.Tensor, 0, len(params))
	for _, p := range params {
		rows, cols := p.Value.Dims()
		tensors = append(tensors, model.Tensor{
			Name:  p.Name,
			Group: string(p.Group),
			Rows:  rows,
			Cols:  cols,
			Data:  append([]float64(nil), p.Data()...),
		})
	}
	return model.NetworkSnapshot{
		VersionedRecord: model.VersionedRecord{SchemaVersion: SnapshotSchemaVersion, CodecVersion: SnapshotCodecVersion},
		RunID:           runID,
		Iteration:       iteration,
		InputSize:       n.cfg.InputSize,
		HiddenSize:      n.cfg.HiddenSize,
		ActionCount:     n.cfg.ActionCount,
		Activation:      n.cfg.Activation,
		PlasticityRule:  n.cfg.PlasticityRule,
		TraceDecay:      n.cfg.TraceDecay,
		TraceLimit:      n.cfg.TraceLimit,
		Tensors:         tensors,
	}
}

// FromSnapshot rebuilds a network with the snapshot's architecture and
// weights.
func FromSnapshot(s model.NetworkSnapshot) (*Network, error) {
	n, err := build(Config{
		InputSize:      s.InputSize,
		HiddenSize:     s.HiddenSize,
		ActionCount:    s.ActionCount,
		Activation:     s.Activation,
		PlasticityRule: s.PlasticityRule,
		TraceDecay:     s.TraceDecay,
		TraceLimit:     s.TraceLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := n.Load(s); err != nil {
		return nil, err
	}
	return n, nil
}

// Load copies snapshot weights into n. Every parameter must be present with a
// matching shape.
func (n *Network) Load(s model.NetworkSnapshot) error {
	byName := make(map[string]model.Tensor, len(s.Tensors))
	for _, tensor := range s.Tensors {
		byName[tensor.Name] = tensor
	}
	for _, p := range n.Params() {
		tensor, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("snapshot missing tensor %s", p.Name)
		}
		rows, cols := p.Value.Dims()
		if tensor.Rows != rows || tensor.Cols != cols || len(tensor.Data) != rows*cols {
			return fmt.Errorf("tensor %s: shape %dx%d (%d values), want %dx%d", p.Name, tensor.Rows, tensor.Cols, len(tensor.Data), rows, cols)
		}
		copy(p.Data(), tensor.Data)
	}
	return nil
}
