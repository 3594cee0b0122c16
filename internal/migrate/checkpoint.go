package migrate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/untoldecay/dbport/internal/bundle"
)

// Checkpoint is the resumable copy position. It is written atomically
// after every committed batch and reflects only fully committed state.
type Checkpoint struct {
	CompletedTables []string `json:"completed_tables"`
	CurrentTable    string   `json:"current_table,omitempty"`
	CurrentOffset   int64    `json:"current_offset"`
}

// LoadCheckpoint reads a checkpoint file; a missing file yields a fresh
// checkpoint, a corrupt one is an error (resuming from garbage would
// silently skip data).
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read checkpoint: %v", ErrCheckpoint, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: corrupt checkpoint file: %v", ErrCheckpoint, err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically (temp, fsync, rename).
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	if err := bundle.WriteAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpoint, err)
	}
	return nil
}

// Completed reports whether the table finished copying in a prior run.
func (cp *Checkpoint) Completed(table string) bool {
	for _, t := range cp.CompletedTables {
		if t == table {
			return true
		}
	}
	return false
}

// MarkComplete records a finished table and clears the in-progress
// position.
func (cp *Checkpoint) MarkComplete(table string) {
	if !cp.Completed(table) {
		cp.CompletedTables = append(cp.CompletedTables, table)
	}
	cp.CurrentTable = ""
	cp.CurrentOffset = 0
}
