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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pedagogic/courseforge/backoff"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Handler processes one delivered job. attempt is the delivery attempt
// number, starting at 1. Handlers must be idempotent: at-least-once
// delivery means the same job can be handled more than once.
type Handler func(ctx context.Context, job *core.Job, attempt int) error

// Worker polls the queue, claims entries under a lease and runs them on
// a bounded pool. Each running job heartbeats its lease on a ticker; if
// the lease is lost the job's context is cancelled and the queue is free
// to redeliver. This is an explicit message loop, not a callback chain,
// so cancellation and timeout behavior stay inspectable.
type Worker struct {
	id      string
	jobs    storage.JobRepository
	entries storage.QueueRepository
	tracker *Tracker
	handler Handler
	pool    *ants.Pool
	queue   *Queue

	leaseTTL      time.Duration
	pollInterval  time.Duration
	renewInterval time.Duration
	requeueDelay  time.Duration

	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker) error

// WithConcurrency sets how many jobs the worker runs at once.
// Default is 4.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) error {
		if n < 1 {
			n = 1
		}
		if w.pool != nil {
			w.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		w.pool = pool
		return nil
	}
}

// WithLeaseTTL sets the lease duration for claimed jobs. Renewal runs at
// a third of the TTL. Default is 30s.
func WithLeaseTTL(ttl time.Duration) WorkerOption {
	return func(w *Worker) error {
		w.leaseTTL = ttl
		w.renewInterval = ttl / 3
		return nil
	}
}

// WithPollInterval sets how often the worker polls for ready entries.
// Default is 500ms.
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) error {
		w.pollInterval = interval
		return nil
	}
}

// WithRequeueDelay sets the base backoff delay applied before a failed
// job becomes ready for redelivery. Default is 2s.
func WithRequeueDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) error {
		w.requeueDelay = delay
		return nil
	}
}

// WithWorkerLogger sets a custom logger.
// Default is slog.Default().
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// NewWorker creates a queue worker.
func NewWorker(jobs storage.JobRepository, entries storage.QueueRepository, tracker *Tracker, queue *Queue, handler Handler, opts ...WorkerOption) (*Worker, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if entries == nil {
		return nil, ErrQueueRepositoryRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	pool, err := ants.NewPool(4)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:            uuid.NewString(),
		jobs:          jobs,
		entries:       entries,
		tracker:       tracker,
		queue:         queue,
		handler:       handler,
		pool:          pool,
		leaseTTL:      30 * time.Second,
		pollInterval:  500 * time.Millisecond,
		renewInterval: 10 * time.Second,
		requeueDelay:  2 * time.Second,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		if optErr := opt(w); optErr != nil {
			w.pool.Release()
			return nil, optErr
		}
	}
	return w, nil
}

// ID returns the worker's delivery identity used on leases.
func (w *Worker) ID() string {
	return w.id
}

// Run polls for ready entries until Stop is called or the context ends.
// In-flight jobs are allowed to finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "worker", w.id, "capacity", w.pool.Cap())
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-w.stop:
			w.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// Stop asks Run to return after in-flight jobs finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Release releases the worker pool. Call after Run has returned.
func (w *Worker) Release() {
	w.pool.Release()
}

// tick performs one poll cycle: reap expired leases, then claim and
// dispatch as many ready entries as the pool has room for.
func (w *Worker) tick(ctx context.Context) {
	now := time.Now().UTC()

	if w.queue != nil {
		if _, err := w.queue.ReapExpired(ctx, now); err != nil {
			w.logger.Error("lease reaping failed", "worker", w.id, "error", err)
		}
	}

	free := w.pool.Free()
	if free <= 0 {
		return
	}
	ready, err := w.entries.ListReady(ctx, now, free)
	if err != nil {
		w.logger.Error("listing ready entries failed", "worker", w.id, "error", err)
		return
	}

	for _, entry := range ready {
		lease, err := w.entries.AcquireLease(ctx, entry.JobId, w.id, now.Add(w.leaseTTL))
		if err != nil {
			// Another worker won the race or the entry is gone.
			if errors.Is(err, storage.ErrLeaseHeld) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			w.logger.Error("lease acquisition failed", "worker", w.id, "job", entry.JobId, "error", err)
			continue
		}

		w.wg.Add(1)
		if submitErr := w.pool.Submit(func() {
			defer w.wg.Done()
			w.process(ctx, lease)
		}); submitErr != nil {
			w.wg.Done()
			if requeueErr := w.entries.Requeue(ctx, lease.JobId, lease.Attempt, now); requeueErr != nil {
				w.logger.Error("requeue after submit failure failed", "job", lease.JobId, "error", requeueErr)
			}
		}
	}
}

// process runs one claimed job end to end: cancellation check, activation
// report, handler under a heartbeating lease, then terminal report and
// ack or requeue.
func (w *Worker) process(ctx context.Context, lease *storage.Lease) {
	jobID := lease.JobId

	cancelled, err := w.entries.CancelRequested(ctx, jobID)
	if err != nil {
		w.logger.Error("cancellation check failed", "job", jobID, "error", err)
	} else if cancelled {
		if _, err := w.tracker.MarkCancelled(ctx, jobID); err != nil {
			w.logger.Error("recording cancellation failed", "job", jobID, "error", err)
			return
		}
		w.ack(ctx, jobID)
		return
	}

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			w.logger.Error("queued job has no record, dropping", "job", jobID)
			w.ack(ctx, jobID)
			return
		}
		w.logger.Error("loading job failed", "job", jobID, "error", err)
		return
	}

	status, err := w.tracker.MarkActive(ctx, jobID)
	if err != nil {
		w.logger.Error("activation report failed", "job", jobID, "error", err)
		return
	}
	if status.State.IsTerminal() {
		// Duplicate delivery of a finished job.
		w.ack(ctx, jobID)
		return
	}

	w.logger.Info("job started",
		"job", jobID, "type", job.Type, "attempt", lease.Attempt, "worker", w.id)

	runCtx, cancelRun := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go w.renewLoop(runCtx, jobID, cancelRun, renewDone)

	handlerErr := w.handler(runCtx, job, lease.Attempt)
	cancelRun()
	<-renewDone

	switch {
	case handlerErr == nil:
		if _, err := w.tracker.MarkCompleted(ctx, jobID); err != nil {
			// Status unknown; skip the ack so the lease expires and the
			// job is redelivered rather than silently lost.
			w.logger.Error("completion report failed", "job", jobID, "error", err)
			return
		}
		w.ack(ctx, jobID)
		w.logger.Info("job completed", "job", jobID, "attempt", lease.Attempt)

	case errors.Is(handlerErr, ErrJobCancelled):
		if _, err := w.tracker.MarkCancelled(ctx, jobID); err != nil {
			w.logger.Error("cancellation report failed", "job", jobID, "error", err)
			return
		}
		w.ack(ctx, jobID)
		w.logger.Info("job cancelled", "job", jobID, "attempt", lease.Attempt)

	default:
		status, err := w.tracker.MarkFailed(ctx, jobID, handlerErr, lease.Attempt)
		if err != nil {
			w.logger.Error("failure report failed", "job", jobID, "error", err)
			return
		}
		if status.State == core.JobStatePending {
			readyAt := time.Now().UTC().Add(backoff.Delay(w.requeueDelay, lease.Attempt))
			if err := w.entries.Requeue(ctx, jobID, lease.Attempt, readyAt); err != nil {
				w.logger.Error("requeue failed", "job", jobID, "error", err)
			}
		} else {
			w.ack(ctx, jobID)
		}
	}
}

// renewLoop heartbeats the lease until the job context ends. Losing the
// lease cancels the job so a redelivered copy never runs concurrently
// with side effects from this one longer than necessary.
func (w *Worker) renewLoop(ctx context.Context, jobID core.JobID, cancelRun context.CancelFunc, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.entries.RenewLease(ctx, jobID, w.id, time.Now().UTC().Add(w.leaseTTL))
			if err == nil {
				continue
			}
			if errors.Is(err, storage.ErrLeaseLost) {
				w.logger.Warn("lease lost, abandoning job", "job", jobID, "worker", w.id)
				cancelRun()
				return
			}
			w.logger.Warn("lease renewal failed", "job", jobID, "error", err)
		}
	}
}

func (w *Worker) ack(ctx context.Context, jobID core.JobID) {
	if err := w.entries.Ack(ctx, jobID, w.id); err != nil && !errors.Is(err, storage.ErrLeaseLost) {
		w.logger.Error("ack failed", "job", jobID, "error", err)
	}
}
