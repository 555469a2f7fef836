package repository

import (
	"errors"

	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

// StateFile is the snapshot file name inside the working directory.
const StateFile = "_downloads.json"

var ErrNilSnapshot = errors.New("cannot save nil snapshot")

// Snapshot is the persisted scheduler state: the queue order and every known job.
type Snapshot struct {
	Queue []string                  `json:"queue"`
	Jobs  map[string]transfer.State `json:"jobs"`
}

// Store persists scheduler snapshots. Load returns a nil snapshot and no error when
// nothing was saved yet.
type Store interface {
	Save(snapshot *Snapshot) error
	Load() (*Snapshot, error)
	Close() error
}
