package badger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// QueueRepository implements storage.QueueRepository for BadgerDB.
//
// Pending entries and leases live under separate keys; an entry stays in
// place while leased so that a crashed worker's job reappears as soon as
// its lease deadline passes. Lease acquisition reads both keys inside one
// serializable transaction, so two workers racing for the same entry
// conflict at commit and only one wins.
type QueueRepository struct {
	backend *Backend
}

var _ storage.QueueRepository = (*QueueRepository)(nil)

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(backend *Backend) *QueueRepository {
	return &QueueRepository{backend: backend}
}

// Close implements storage.QueueRepository.
func (r *QueueRepository) Close() error {
	return nil
}

// PutEntry stores or replaces a pending entry for a job.
func (r *QueueRepository) PutEntry(ctx context.Context, entry *storage.QueueEntry) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeQueueEntryKey(entry.JobId), storage.MarshalQueueEntry(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ListReady returns up to limit unleased entries whose ReadyAt has passed,
// ordered by priority descending then enqueue time ascending.
func (r *QueueRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*storage.QueueEntry, error) {
	var ready []*storage.QueueEntry

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueEntryPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var entry *storage.QueueEntry
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				entry, unmarshalErr = storage.UnmarshalQueueEntry(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}

			if entry.ReadyAt.After(now) {
				continue
			}

			lease, err := readLease(tx, entry.JobId)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			if lease != nil && lease.Deadline.After(now) {
				continue
			}

			ready = append(ready, entry)
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}

	slices.SortFunc(ready, func(a, b *storage.QueueEntry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

// AcquireLease atomically claims an entry for a worker.
func (r *QueueRepository) AcquireLease(ctx context.Context, jobID core.JobID, workerID string, deadline time.Time) (*storage.Lease, error) {
	var lease *storage.Lease

	err := r.transactWithConflictRetry(ctx, func(tx *badger.Txn) error {
		entry, err := readQueueEntry(tx, jobID)
		if err != nil {
			return err
		}

		existing, err := readLease(tx, jobID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Deadline.After(time.Now()) {
			return storage.ErrLeaseHeld
		}

		entry.Attempt++
		lease = &storage.Lease{
			JobId:    jobID,
			WorkerID: workerID,
			Attempt:  entry.Attempt,
			Deadline: deadline,
		}
		if err := tx.Set(makeQueueEntryKey(jobID), storage.MarshalQueueEntry(entry)); err != nil {
			return err
		}
		if err := tx.Set(makeQueueLeaseKey(jobID), storage.MarshalLease(lease)); err != nil {
			return err
		}
		return tx.Commit()
	})

	if err != nil {
		return nil, err
	}
	return lease, nil
}

// RenewLease extends a held lease.
func (r *QueueRepository) RenewLease(ctx context.Context, jobID core.JobID, workerID string, deadline time.Time) error {
	return r.transactWithConflictRetry(ctx, func(tx *badger.Txn) error {
		lease, err := readLease(tx, jobID)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if lease.WorkerID != workerID {
			return storage.ErrLeaseLost
		}

		lease.Deadline = deadline
		if err := tx.Set(makeQueueLeaseKey(jobID), storage.MarshalLease(lease)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Ack removes the entry and its lease after successful processing.
func (r *QueueRepository) Ack(ctx context.Context, jobID core.JobID, workerID string) error {
	return r.transactWithConflictRetry(ctx, func(tx *badger.Txn) error {
		lease, err := readLease(tx, jobID)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrLeaseLost
		}
		if err != nil {
			return err
		}
		if lease.WorkerID != workerID {
			return storage.ErrLeaseLost
		}

		if err := tx.Delete(makeQueueEntryKey(jobID)); err != nil {
			return err
		}
		if err := tx.Delete(makeQueueLeaseKey(jobID)); err != nil {
			return err
		}
		if err := tx.Delete(makeQueueCancelKey(jobID)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Requeue releases the lease and re-stores the entry for redelivery.
func (r *QueueRepository) Requeue(ctx context.Context, jobID core.JobID, attempt int, readyAt time.Time) error {
	return r.transactWithConflictRetry(ctx, func(tx *badger.Txn) error {
		entry, err := readQueueEntry(tx, jobID)
		if err != nil {
			return err
		}

		entry.Attempt = attempt
		entry.ReadyAt = readyAt
		if err := tx.Set(makeQueueEntryKey(jobID), storage.MarshalQueueEntry(entry)); err != nil {
			return err
		}
		if err := tx.Delete(makeQueueLeaseKey(jobID)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ExpiredLeases returns leases whose deadline passed before now.
func (r *QueueRepository) ExpiredLeases(ctx context.Context, now time.Time) ([]*storage.Lease, error) {
	var expired []*storage.Lease

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueLeasePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var lease *storage.Lease
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				lease, unmarshalErr = storage.UnmarshalLease(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			if lease.Deadline.Before(now) {
				expired = append(expired, lease)
			}
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	return expired, nil
}

// RemoveEntry deletes a pending, unleased entry.
func (r *QueueRepository) RemoveEntry(ctx context.Context, jobID core.JobID) (bool, error) {
	removed := false

	err := r.transactWithConflictRetry(ctx, func(tx *badger.Txn) error {
		removed = false

		if _, err := readQueueEntry(tx, jobID); errors.Is(err, storage.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		lease, err := readLease(tx, jobID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if lease != nil && lease.Deadline.After(time.Now()) {
			return nil
		}

		if err := tx.Delete(makeQueueEntryKey(jobID)); err != nil {
			return err
		}
		if err := tx.Delete(makeQueueLeaseKey(jobID)); err != nil {
			return err
		}
		removed = true
		return tx.Commit()
	})

	return removed, err
}

// RequestCancel sets the cooperative cancellation flag for a job.
func (r *QueueRepository) RequestCancel(ctx context.Context, jobID core.JobID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeQueueCancelKey(jobID), []byte{1}); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// CancelRequested reports whether cancellation was requested.
func (r *QueueRepository) CancelRequested(ctx context.Context, jobID core.JobID) (bool, error) {
	requested := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeQueueCancelKey(jobID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		requested = true
		return nil
	}, false)
	return requested, err
}

// transactWithConflictRetry runs a write transaction, retrying immediately
// when a concurrent commit invalidates the read set.
func (r *QueueRepository) transactWithConflictRetry(ctx context.Context, fn func(tx *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.backend.WithTx(fn, true)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

func readQueueEntry(tx *badger.Txn, jobID core.JobID) (*storage.QueueEntry, error) {
	item, err := tx.Get(makeQueueEntryKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var entry *storage.QueueEntry
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		entry, unmarshalErr = storage.UnmarshalQueueEntry(val)
		return unmarshalErr
	})
	return entry, err
}

func readLease(tx *badger.Txn, jobID core.JobID) (*storage.Lease, error) {
	item, err := tx.Get(makeQueueLeaseKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var lease *storage.Lease
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		lease, unmarshalErr = storage.UnmarshalLease(val)
		return unmarshalErr
	})
	return lease, err
}
