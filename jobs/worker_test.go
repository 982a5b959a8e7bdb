package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/core"
	storagebadger "github.com/pedagogic/courseforge/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerHarness struct {
	repos   *storagebadger.Repositories
	tracker *Tracker
	queue   *Queue
	worker  *Worker
}

func startWorker(t *testing.T, maxAttempts int, handler Handler) *workerHarness {
	t.Helper()
	repos := newTestRepos(t)

	tracker, err := NewTracker(repos.Jobs,
		WithMaxAttempts(maxAttempts),
		WithStorageRetry(3, time.Millisecond))
	require.NoError(t, err)

	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	worker, err := NewWorker(repos.Jobs, repos.Queue, tracker, queue, handler,
		WithConcurrency(2),
		WithPollInterval(10*time.Millisecond),
		WithRequeueDelay(time.Millisecond))
	require.NoError(t, err)

	go worker.Run(context.Background())
	t.Cleanup(func() {
		worker.Stop()
		worker.Release()
	})

	return &workerHarness{repos: repos, tracker: tracker, queue: queue, worker: worker}
}

func (h *workerHarness) waitForState(t *testing.T, id core.JobID, state core.JobState) *core.JobStatus {
	t.Helper()
	var status *core.JobStatus
	require.Eventually(t, func() bool {
		s, err := h.tracker.GetStatus(context.Background(), id)
		if err != nil {
			return false
		}
		status = s
		return s.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestWorkerProcessesJob(t *testing.T) {
	var processed atomic.Int32
	var gotType atomic.Int32
	h := startWorker(t, 3, func(ctx context.Context, job *core.Job, attempt int) error {
		processed.Add(1)
		gotType.Store(int32(job.Type))
		return nil
	})

	ctx := context.Background()
	id, err := h.queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	status := h.waitForState(t, id, core.JobStateCompleted)
	assert.False(t, status.StartedAt.IsZero())
	assert.False(t, status.FinishedAt.IsZero())
	assert.Equal(t, int32(1), processed.Load())
	assert.Equal(t, int32(core.JobTypeIngest), gotType.Load())

	// The acked entry is gone.
	require.Eventually(t, func() bool {
		ready, err := h.repos.Queue.ListReady(ctx, time.Now().UTC(), 0)
		return err == nil && len(ready) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	h := startWorker(t, 3, func(ctx context.Context, job *core.Job, attempt int) error {
		if calls.Add(1) == 1 {
			return errors.New("transient upstream error")
		}
		return nil
	})

	id, err := h.queue.Enqueue(context.Background(), core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	status := h.waitForState(t, id, core.JobStateCompleted)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, status.AttemptCount)
	assert.Equal(t, "transient upstream error", status.LastError)
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	h := startWorker(t, 2, func(ctx context.Context, job *core.Job, attempt int) error {
		calls.Add(1)
		return errors.New("persistent failure")
	})

	id, err := h.queue.Enqueue(context.Background(), core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	status := h.waitForState(t, id, core.JobStateFailed)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, status.AttemptCount)
	assert.Equal(t, "persistent failure", status.LastError)
	assert.False(t, status.FinishedAt.IsZero())
}

func TestWorkerHandlerReportsCancellation(t *testing.T) {
	h := startWorker(t, 3, func(ctx context.Context, job *core.Job, attempt int) error {
		return ErrJobCancelled
	})

	id, err := h.queue.Enqueue(context.Background(), core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	status := h.waitForState(t, id, core.JobStateCancelled)
	assert.False(t, status.FinishedAt.IsZero())
}

func TestWorkerSkipsCancelRequestedDelivery(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	// Flag set while the entry is still queued, as if the job had been
	// delivered once, flagged, then requeued after a lease expiry.
	require.NoError(t, repos.Queue.RequestCancel(ctx, id))

	var calls atomic.Int32
	worker, err := NewWorker(repos.Jobs, repos.Queue, tracker, queue,
		func(ctx context.Context, job *core.Job, attempt int) error {
			calls.Add(1)
			return nil
		},
		WithConcurrency(1),
		WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	go worker.Run(ctx)
	t.Cleanup(func() {
		worker.Stop()
		worker.Release()
	})

	require.Eventually(t, func() bool {
		s, err := tracker.GetStatus(ctx, id)
		return err == nil && s.State == core.JobStateCancelled
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
