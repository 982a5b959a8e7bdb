// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// StageRunRepository implements storage.StageRunRepository for BadgerDB.
type StageRunRepository struct {
	backend *Backend
}

var _ storage.StageRunRepository = (*StageRunRepository)(nil)

// NewStageRunRepository creates a new StageRunRepository.
func NewStageRunRepository(backend *Backend) *StageRunRepository {
	return &StageRunRepository{backend: backend}
}

// Close implements storage.StageRunRepository.
func (r *StageRunRepository) Close() error {
	return nil
}

// AppendStageRun durably records a completed phase. If the (job, phase
// index) entry already exists the call is a no-op: a phase output, once
// persisted, is never replaced.
func (r *StageRunRepository) AppendStageRun(ctx context.Context, run *core.StageRun) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeStageRunKey(run.JobId, run.PhaseIndex)

		if _, err := tx.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(key, storage.MarshalStageRun(run)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetStageRuns returns all recorded phase results for a job, ordered by
// phase index ascending.
func (r *StageRunRepository) GetStageRuns(ctx context.Context, jobID core.JobID) ([]*core.StageRun, error) {
	var runs []*core.StageRun

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeStageRunScanPrefix(jobID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var run *core.StageRun
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				run, unmarshalErr = storage.UnmarshalStageRun(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []*core.StageRun{}
	}
	return runs, nil
}

// LatestPhaseIndex returns the highest phase index recorded for a job,
// or -1 when no phases have completed.
func (r *StageRunRepository) LatestPhaseIndex(ctx context.Context, jobID core.JobID) (int, error) {
	runs, err := r.GetStageRuns(ctx, jobID)
	if err != nil {
		return -1, err
	}
	if len(runs) == 0 {
		return -1, nil
	}
	return runs[len(runs)-1].PhaseIndex, nil
}
