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
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Queue is the durable job queue. Enqueue persists the job, its PENDING
// status and a queue entry in that order; delivery is at-least-once, so
// everything downstream of the queue must tolerate duplicates.
type Queue struct {
	jobs    storage.JobRepository
	entries storage.QueueRepository
	tracker *Tracker
	logger  *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a custom logger.
// Default is slog.Default().
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
	}
}

// NewQueue creates a job queue.
func NewQueue(jobs storage.JobRepository, entries storage.QueueRepository, tracker *Tracker, opts ...QueueOption) (*Queue, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if entries == nil {
		return nil, ErrQueueRepositoryRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}

	q := &Queue{
		jobs:    jobs,
		entries: entries,
		tracker: tracker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue persists a new job and makes it available for delivery. The
// returned job id is durable the moment this call succeeds. The entry's
// attempt count starts at zero; lease acquisition bumps it, so the first
// delivery is attempt 1.
func (q *Queue) Enqueue(ctx context.Context, jobType core.JobType, payload core.JobPayload, priority int) (core.JobID, error) {
	if payload.OrganizationID == "" {
		return "", core.ErrMissingOrganization
	}
	if payload.CourseID == "" {
		return "", core.ErrMissingCourse
	}

	now := time.Now().UTC()
	job := &core.Job{
		Id:        core.JobID(uuid.NewString()),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: now,
	}

	if _, err := q.jobs.CreateJob(ctx, job); err != nil {
		return "", err
	}
	entry := &storage.QueueEntry{
		JobId:      job.Id,
		Priority:   priority,
		ReadyAt:    now,
		EnqueuedAt: now,
	}
	if err := q.entries.PutEntry(ctx, entry); err != nil {
		return "", err
	}

	q.logger.Info("job enqueued",
		"job", job.Id,
		"type", jobType,
		"organization", payload.OrganizationID,
		"course", payload.CourseID,
		"priority", priority)
	return job.Id, nil
}

// Cancel requests cancellation of a job. A job that has not been picked
// up is removed from the queue and marked CANCELLED immediately; a
// delivered job gets its cancellation flag set, which the phase runner
// observes between phases. Returns false when the job is unknown or
// already terminal.
func (q *Queue) Cancel(ctx context.Context, id core.JobID) (bool, error) {
	status, err := q.jobs.GetStatus(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if status.State.IsTerminal() {
		return false, nil
	}

	removed, err := q.entries.RemoveEntry(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		if _, err := q.tracker.MarkCancelled(ctx, id); err != nil {
			return false, err
		}
		q.logger.Info("pending job cancelled", "job", id)
		return true, nil
	}

	if err := q.entries.RequestCancel(ctx, id); err != nil {
		return false, err
	}
	q.logger.Info("cancellation requested for active job", "job", id)
	return true, nil
}

// Stats summarizes the queue's delivery state at one point in time.
type Stats struct {
	Ready         int
	ExpiredLeases int
}

// Stats reports how many entries are ready for delivery and how many
// leases have expired without an ack.
func (q *Queue) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	ready, err := q.entries.ListReady(ctx, now, 0)
	if err != nil {
		return nil, err
	}
	expired, err := q.entries.ExpiredLeases(ctx, now)
	if err != nil {
		return nil, err
	}
	return &Stats{Ready: len(ready), ExpiredLeases: len(expired)}, nil
}

// ReapExpired releases the leases of workers that stopped heartbeating,
// making their jobs immediately eligible for redelivery. Returns the ids
// of the reaped jobs.
func (q *Queue) ReapExpired(ctx context.Context, now time.Time) ([]core.JobID, error) {
	expired, err := q.entries.ExpiredLeases(ctx, now)
	if err != nil {
		return nil, err
	}

	var reaped []core.JobID
	for _, lease := range expired {
		err := q.entries.Requeue(ctx, lease.JobId, lease.Attempt, now)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return reaped, err
		}
		q.logger.Warn("lease expired, job requeued",
			"job", lease.JobId,
			"worker", lease.WorkerID,
			"attempt", lease.Attempt)
		reaped = append(reaped, lease.JobId)
	}
	return reaped, nil
}
