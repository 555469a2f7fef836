package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

const (
	jobsBucket     = "jobs"
	metadataBucket = "metadata"
	queueKey       = "queue"
	schemaVersion  = 1
)

// BboltStore keeps one record per job plus the queue order in a bbolt database.
type BboltStore struct {
	db *bbolt.DB
}

// NewBboltStore opens (or creates) the database at dbPath.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &BboltStore{
		db: db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *BboltStore) initialize() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(jobsBucket)); err != nil {
			return fmt.Errorf("failed to create jobs bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Save replaces every stored job with the snapshot contents in one transaction.
func (s *BboltStore) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return ErrNilSnapshot
	}

	queue, err := json.Marshal(snapshot.Queue)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(jobsBucket)); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("failed to reset jobs bucket: %w", err)
		}

		jobs, err := tx.CreateBucket([]byte(jobsBucket))
		if err != nil {
			return fmt.Errorf("failed to create jobs bucket: %w", err)
		}

		for id, state := range snapshot.Jobs {
			data, err := json.Marshal(state)
			if err != nil {
				return fmt.Errorf("failed to marshal job %s: %w", id, err)
			}

			if err := jobs.Put([]byte(id), data); err != nil {
				return fmt.Errorf("failed to save job %s: %w", id, err)
			}
		}

		meta := tx.Bucket([]byte(metadataBucket))
		if meta == nil {
			return fmt.Errorf("bucket not found: %s", metadataBucket)
		}

		return meta.Put([]byte(queueKey), queue)
	})
}

func (s *BboltStore) Load() (*Snapshot, error) {
	var snapshot *Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metadataBucket))
		if meta == nil {
			return fmt.Errorf("bucket not found: %s", metadataBucket)
		}

		queue := meta.Get([]byte(queueKey))
		if queue == nil {
			return nil
		}

		snapshot = &Snapshot{Jobs: make(map[string]transfer.State)}
		if err := json.Unmarshal(queue, &snapshot.Queue); err != nil {
			return fmt.Errorf("failed to unmarshal queue: %w", err)
		}

		jobs := tx.Bucket([]byte(jobsBucket))
		if jobs == nil {
			return nil
		}

		return jobs.ForEach(func(k, v []byte) error {
			var state transfer.State
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("failed to unmarshal job %s: %w", k, err)
			}

			snapshot.Jobs[string(k)] = state

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}
