// Package checkpoint persists the progress of a paginated export so an
// interrupted run can resume where it stopped.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state recorded in a checkpoint.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// Checkpoint is the on-disk progress record of one job.
// Exactly one of Iter (offset cursors) and Iters (token cursors) is set once
// the first page has been fetched.
type Checkpoint struct {
	Iter      *int              `json:"iter,omitempty"`
	Iters     *string           `json:"iters,omitempty"`
	Key       string            `json:"key"`            // Job kind, e.g. "export" or "history"
	Query     string            `json:"query"`          // JQL the job was started with
	Status    Status            `json:"status"`         // Lifecycle state
	DataBlock []json.RawMessage `json:"data_block"`     // Results materialized so far
	Point     int               `json:"point"`          // Rows already materialized into DataBlock
	Done      bool              `json:"done,omitempty"` // The last page has been consumed
}

// Store reads and writes the checkpoint file of one job kind.
type Store struct {
	path string
	log  zerolog.Logger
}

// New returns a Store for the given job kind under dir.
func New(dir, kind string, log zerolog.Logger) *Store {
	return &Store{
		path: filepath.Join(dir, kind+"_checkpoint.json"),
		log:  log.With().Str("checkpoint", kind).Logger(),
	}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved checkpoint, or nil if there is none.
// A file that cannot be parsed is treated as absent.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("ignoring unreadable checkpoint")
		return nil, nil
	}
	return &cp, nil
}

// Save replaces the checkpoint file with cp.
// The write goes to a temporary file that is renamed over the old one, so a
// crash leaves either the previous or the new checkpoint, never a torn file.
func (s *Store) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint file. It is not an error if none exists.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
