// Package checkpoint persists and restores Pipeline Engine run state so a
// run can resume after interruption. Grounded bit-exact on original_source
// forge-attractor/src/{checkpoint,resume}.rs.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgehq/forge/internal/pipeline/pstate"
)

// FileName is the checkpoint's fixed basename under a run's logs_root.
const FileName = "checkpoint.json"

// Metadata identifies one checkpoint write.
type Metadata struct {
	SchemaVersion int    `json:"schema_version"`
	RunID         string `json:"run_id"`
	CheckpointID  string `json:"checkpoint_id"`
	SequenceNo    uint64 `json:"sequence_no"`
	Timestamp     string `json:"timestamp"`
}

// NodeOutcome is the JSON-serializable projection of pstate.Outcome stored
// in a checkpoint (context_updates are not persisted per node; the
// checkpoint's ContextValues already carries the merged context).
type NodeOutcome struct {
	Status           string   `json:"status"`
	Notes            string   `json:"notes,omitempty"`
	PreferredLabel   string   `json:"preferred_label,omitempty"`
	SuggestedNextIDs []string `json:"suggested_next_ids,omitempty"`
}

// FromOutcome projects a runtime Outcome into its checkpoint form.
func FromOutcome(o pstate.Outcome) NodeOutcome {
	return NodeOutcome{
		Status:           o.Status.String(),
		Notes:            o.Notes,
		PreferredLabel:   o.PreferredLabel,
		SuggestedNextIDs: o.SuggestedNextIDs,
	}
}

// ToOutcome reconstructs a runtime Outcome from its checkpoint form. The
// reconstructed Outcome never carries context_updates: those were already
// applied and persisted into the checkpoint's ContextValues.
func (c NodeOutcome) ToOutcome() (pstate.Outcome, error) {
	status, ok := pstate.ParseStatus(c.Status)
	if !ok {
		return pstate.Outcome{}, fmt.Errorf("unknown node status %q in checkpoint", c.Status)
	}
	return pstate.Outcome{
		Status:           status,
		Notes:            c.Notes,
		PreferredLabel:   c.PreferredLabel,
		SuggestedNextIDs: c.SuggestedNextIDs,
	}, nil
}

// State is the full persisted snapshot of an in-flight (or finished) run.
type State struct {
	Metadata              Metadata               `json:"metadata"`
	CurrentNode           string                 `json:"current_node"`
	NextNode              *string                `json:"next_node"`
	CompletedNodes        []string               `json:"completed_nodes"`
	NodeRetries           map[string]uint32      `json:"node_retries"`
	NodeOutcomes          map[string]NodeOutcome `json:"node_outcomes"`
	ContextValues         pstate.Context         `json:"context_values"`
	Logs                  []string               `json:"logs"`
	CurrentNodeFidelity   *string                `json:"current_node_fidelity"`
	TerminalStatus        *string                `json:"terminal_status"`
	TerminalFailureReason *string                `json:"terminal_failure_reason"`
	GraphDotSourceHash    *string                `json:"graph_dot_source_hash,omitempty"`
	GraphDotSourceRef     *string                `json:"graph_dot_source_ref,omitempty"`
	GraphSnapshotHash     *string                `json:"graph_snapshot_hash,omitempty"`
	GraphSnapshotRef      *string                `json:"graph_snapshot_ref,omitempty"`
}

// FilePath returns logsRoot/checkpoint.json.
func FilePath(logsRoot string) string {
	return filepath.Join(logsRoot, FileName)
}

// SaveToPath writes state to path atomically: encode, write to a sibling
// temp file, then rename over the destination.
func SaveToPath(state State, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint parent directory %q: %w", dir, err)
		}
	}
	bytes, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0o644); err != nil {
		return fmt.Errorf("failed writing checkpoint temp file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed renaming checkpoint file into place %q: %w", path, err)
	}
	return nil
}

// LoadFromPath reads and decodes a checkpoint file.
func LoadFromPath(path string) (State, error) {
	var state State
	bytes, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("failed reading checkpoint file %q: %w", path, err)
	}
	if err := json.Unmarshal(bytes, &state); err != nil {
		return state, fmt.Errorf("failed deserializing checkpoint file %q: %w", path, err)
	}
	return state, nil
}

// TerminalPipelineStatus interprets the checkpoint's TerminalStatus field.
func (s State) TerminalPipelineStatus() (*pstate.RunStatus, error) {
	if s.TerminalStatus == nil {
		return nil, nil
	}
	status, ok := pstate.ParseRunStatus(*s.TerminalStatus)
	if !ok {
		return nil, fmt.Errorf("checkpoint has unknown terminal status %q", *s.TerminalStatus)
	}
	return &status, nil
}
