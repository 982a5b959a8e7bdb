package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Close implements storage.JobRepository. The repository holds no
// resources of its own; the backend is closed by its owner.
func (r *JobRepository) Close() error {
	return nil
}

// CreateJob stores a job together with its initial PENDING status.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) (*core.JobStatus, error) {
	if err := core.ValidateJob(job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := &core.JobStatus{
		JobId:     job.Id,
		State:     core.JobStatePending,
		UpdatedAt: now,
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		jobKey := makeJobKey(job.Id)
		if _, err := tx.Get(jobKey); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(jobKey, storage.MarshalJob(job)); err != nil {
			return err
		}
		if err := tx.Set(makeJobStatusKey(job.Id), storage.MarshalJobStatus(status)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return status, nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id core.JobID) (*core.Job, error) {
	var job *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeJobKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			job, unmarshalErr = storage.UnmarshalJob(val)
			return unmarshalErr
		})
	}, false)
	return job, err
}

// GetStatus retrieves the status record for a job.
func (r *JobRepository) GetStatus(ctx context.Context, id core.JobID) (*core.JobStatus, error) {
	var status *core.JobStatus
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		status, err = readJobStatus(tx, id)
		return err
	}, false)
	return status, err
}

// Transition applies a conditional state change atomically.
//
// The guard lives inside the apply function and executes against the
// current row within a serializable transaction: if a concurrent
// transition commits first, the commit here fails with a conflict and the
// whole read-decide-write runs again against the fresh row. Conflicts are
// retried immediately; there are no delays anywhere on this path.
func (r *JobRepository) Transition(ctx context.Context, id core.JobID, apply func(*core.JobStatus) (bool, error)) (*core.JobStatus, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var result *core.JobStatus
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			status, err := readJobStatus(tx, id)
			if err != nil {
				return err
			}

			write, err := apply(status)
			if err != nil {
				return err
			}
			result = status
			if !write {
				return nil
			}

			status.UpdatedAt = time.Now().UTC()
			if err := tx.Set(makeJobStatusKey(id), storage.MarshalJobStatus(status)); err != nil {
				return err
			}
			return tx.Commit()
		}, true)

		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// readJobStatus reads a status row within a transaction.
// Returns storage.ErrNotFound when no row exists.
func readJobStatus(tx *badger.Txn, id core.JobID) (*core.JobStatus, error) {
	item, err := tx.Get(makeJobStatusKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var status *core.JobStatus
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		status, unmarshalErr = storage.UnmarshalJobStatus(val)
		return unmarshalErr
	})
	return status, err
}
