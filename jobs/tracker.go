// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pedagogic/courseforge/backoff"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Tracker owns every job state transition. All writes go through the
// repository's conditional Transition, so overlapping reports for the
// same job from concurrent workers serialize without timing assumptions.
// Terminal states are sticky: a late report against a finished job is a
// silent no-op that returns the stored terminal record.
type Tracker struct {
	repo        storage.JobRepository
	maxAttempts int
	ioAttempts  int
	ioBaseDelay time.Duration
	logger      *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithMaxAttempts sets how many delivery attempts a job gets before a
// failure becomes terminal. Default is 3.
func WithMaxAttempts(n int) TrackerOption {
	return func(t *Tracker) {
		t.maxAttempts = n
	}
}

// WithStorageRetry tunes the bounded retry applied to storage I/O.
// Defaults are 4 attempts starting at 50ms.
func WithStorageRetry(attempts int, baseDelay time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.ioAttempts = attempts
		t.ioBaseDelay = baseDelay
	}
}

// WithTrackerLogger sets a custom logger.
// Default is slog.Default().
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
	}
}

// NewTracker creates a job status tracker.
func NewTracker(repo storage.JobRepository, opts ...TrackerOption) (*Tracker, error) {
	if repo == nil {
		return nil, ErrJobRepositoryRequired
	}

	t := &Tracker{
		repo:        repo,
		maxAttempts: 3,
		ioAttempts:  4,
		ioBaseDelay: 50 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}
	return t, nil
}

// MaxAttempts returns the delivery attempt limit.
func (t *Tracker) MaxAttempts() int {
	return t.maxAttempts
}

// MarkActive records that a worker picked up the job. Only a PENDING job
// moves to ACTIVE; an already ACTIVE job keeps its original StartedAt and
// a terminal job is left untouched. Returns the status as stored.
func (t *Tracker) MarkActive(ctx context.Context, id core.JobID) (*core.JobStatus, error) {
	now := time.Now().UTC()
	return t.transition(ctx, id, func(s *core.JobStatus) (bool, error) {
		if s.State.IsTerminal() || s.State == core.JobStateActive {
			return false, nil
		}
		s.State = core.JobStateActive
		s.StartedAt = now
		return true, nil
	})
}

// MarkCompleted records successful completion. StartedAt is backfilled
// when the activation report never arrived. On an already terminal job
// this is a no-op returning the stored terminal record, so a duplicate
// delivery can detect "already finished" without treating it as failure.
func (t *Tracker) MarkCompleted(ctx context.Context, id core.JobID) (*core.JobStatus, error) {
	now := time.Now().UTC()
	return t.transition(ctx, id, func(s *core.JobStatus) (bool, error) {
		if s.State.IsTerminal() {
			return false, nil
		}
		s.State = core.JobStateCompleted
		if s.StartedAt.IsZero() {
			s.StartedAt = now
		}
		s.FinishedAt = now
		return true, nil
	})
}

// MarkFailed records a failed attempt. While attempt is below the limit
// the job goes back to PENDING with an incremented attempt count so the
// queue can redeliver it; at the limit the job becomes FAILED with the
// error recorded. A terminal job is left untouched.
func (t *Tracker) MarkFailed(ctx context.Context, id core.JobID, cause error, attempt int) (*core.JobStatus, error) {
	now := time.Now().UTC()
	status, err := t.transition(ctx, id, func(s *core.JobStatus) (bool, error) {
		if s.State.IsTerminal() {
			return false, nil
		}
		s.LastError = cause.Error()
		if attempt < t.maxAttempts {
			s.State = core.JobStatePending
			s.AttemptCount = attempt + 1
			return true, nil
		}
		s.State = core.JobStateFailed
		s.AttemptCount = attempt
		s.FinishedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	switch status.State {
	case core.JobStatePending:
		t.logger.Warn("job attempt failed, requeued",
			"job", id, "attempt", attempt, "error", cause)
	case core.JobStateFailed:
		t.logger.Error("job failed permanently",
			"job", id, "attempt", attempt, "error", cause)
	}
	return status, nil
}

// MarkCancelled records cooperative cancellation. A terminal job is left
// untouched.
func (t *Tracker) MarkCancelled(ctx context.Context, id core.JobID) (*core.JobStatus, error) {
	now := time.Now().UTC()
	return t.transition(ctx, id, func(s *core.JobStatus) (bool, error) {
		if s.State.IsTerminal() {
			return false, nil
		}
		s.State = core.JobStateCancelled
		s.FinishedAt = now
		return true, nil
	})
}

// GetStatus fetches the tracked status of a job. A missing row means the
// job is not yet visible, distinct from a terminal row.
func (t *Tracker) GetStatus(ctx context.Context, id core.JobID) (*core.JobStatus, error) {
	var status *core.JobStatus
	err := backoff.Retry(ctx, func() error {
		s, err := t.repo.GetStatus(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return backoff.MarkPermanent(err)
			}
			return err
		}
		status = s
		return nil
	}, t.ioAttempts, t.ioBaseDelay)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// transition runs a conditional update with bounded retry on storage I/O
// errors. A missing status row is permanent; exhausted retries surface as
// ErrStatusUnknown so the caller knows the write may or may not have
// landed.
func (t *Tracker) transition(ctx context.Context, id core.JobID, apply func(*core.JobStatus) (bool, error)) (*core.JobStatus, error) {
	var status *core.JobStatus
	err := backoff.Retry(ctx, func() error {
		s, err := t.repo.Transition(ctx, id, apply)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return backoff.MarkPermanent(err)
			}
			return err
		}
		status = s
		return nil
	}, t.ioAttempts, t.ioBaseDelay)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStatusUnknown, err)
	}
	return status, nil
}
