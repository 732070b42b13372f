package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// RunState is the execution-scoped state of one run: node outputs in the
// order they were produced and the status of every node. A fresh RunState is
// created per run so nothing leaks between runs.
type RunState struct {
	mu       sync.RWMutex
	outputs  map[string]string
	order    []string
	statuses map[string]NodeStatus
}

// NewRunState creates a state with every node of d marked idle.
func NewRunState(d *DAG) *RunState {
	s := &RunState{
		outputs:  make(map[string]string),
		statuses: make(map[string]NodeStatus),
	}
	if d != nil {
		for _, n := range d.Nodes {
			s.statuses[n.ID] = StatusIdle
		}
	}
	return s
}

// SetOutput stores a node output. Re-setting keeps the original position.
func (s *RunState) SetOutput(nodeID, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[nodeID]; !ok {
		s.order = append(s.order, nodeID)
	}
	s.outputs[nodeID] = value
}

// Output retrieves a node output.
func (s *RunState) Output(nodeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[nodeID]
	return v, ok
}

// Outputs returns a copy of all outputs.
func (s *RunState) Outputs() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// OutputOrder returns node ids in the order their outputs were stored.
func (s *RunState) OutputOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Last returns the most recently stored output.
func (s *RunState) Last() (nodeID, value string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", "", false
	}
	id := s.order[len(s.order)-1]
	return id, s.outputs[id], true
}

// SetStatus records the status of a node.
func (s *RunState) SetStatus(nodeID string, st NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[nodeID] = st
}

// Status returns the status of a node; unknown nodes are idle.
func (s *RunState) Status(nodeID string) NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[nodeID]; ok {
		return st
	}
	return StatusIdle
}

// Statuses returns a copy of all node statuses.
func (s *RunState) Statuses() map[string]NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

// checkpoint is the JSON-serialisable form of a saved run state.
type checkpoint struct {
	LastNodeID string            `json:"last_node_id"`
	Order      []string          `json:"order"`
	Outputs    map[string]string `json:"outputs"`
}

// SaveCheckpoint persists the outputs produced so far to a JSON file.
func (s *RunState) SaveCheckpoint(path string) error {
	s.mu.RLock()
	cp := checkpoint{
		Order:   append([]string(nil), s.order...),
		Outputs: make(map[string]string, len(s.outputs)),
	}
	for k, v := range s.outputs {
		cp.Outputs[k] = v
	}
	if len(s.order) > 0 {
		cp.LastNodeID = s.order[len(s.order)-1]
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("checkpoint write: %w", err)
	}
	return nil
}

// LoadCheckpoint restores a run state from a JSON checkpoint file.
// Nodes with a restored output are marked success.
func LoadCheckpoint(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint read: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint unmarshal: %w", err)
	}
	s := &RunState{
		outputs:  make(map[string]string, len(cp.Outputs)),
		statuses: make(map[string]NodeStatus, len(cp.Outputs)),
	}
	for _, id := range cp.Order {
		v, ok := cp.Outputs[id]
		if !ok {
			continue
		}
		s.outputs[id] = v
		s.order = append(s.order, id)
		s.statuses[id] = StatusSuccess
	}
	return s, nil
}
