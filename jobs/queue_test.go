package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() core.JobPayload {
	return core.JobPayload{
		OrganizationID: "org-a",
		CourseID:       "course-1",
		DocumentIDs:    []string{"doc-1"},
	}
}

func TestQueueEnqueueValidation(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = queue.Enqueue(ctx, core.JobTypeIngest, core.JobPayload{CourseID: "c"}, 0)
	require.ErrorIs(t, err, core.ErrMissingOrganization)

	_, err = queue.Enqueue(ctx, core.JobTypeIngest, core.JobPayload{OrganizationID: "o"}, 0)
	require.ErrorIs(t, err, core.ErrMissingCourse)
}

func TestQueueEnqueueCreatesPendingJob(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := tracker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatePending, status.State)

	job, err := repos.Jobs.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobTypeIngest, job.Type)
	assert.Equal(t, 5, job.Priority)

	ready, err := repos.Queue.ListReady(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, id, ready[0].JobId)
	assert.Equal(t, 0, ready[0].Attempt)
}

func TestQueueCancelPendingJob(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	accepted, err := queue.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, accepted)

	status, err := tracker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobStateCancelled, status.State)

	ready, err := repos.Queue.ListReady(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestQueueCancelLeasedJobSetsFlag(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	_, err = repos.Queue.AcquireLease(ctx, id, "worker-1", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)

	accepted, err := queue.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, accepted)

	requested, err := repos.Queue.CancelRequested(ctx, id)
	require.NoError(t, err)
	assert.True(t, requested)

	// The delivered job is not force-cancelled; the runner observes the
	// flag at the next phase boundary.
	status, err := tracker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatePending, status.State)
}

func TestQueueCancelUnknownOrTerminal(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	accepted, err := queue.Cancel(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, accepted)

	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)
	_, err = tracker.MarkCompleted(ctx, id)
	require.NoError(t, err)

	accepted, err = queue.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestQueueReapExpiredLeases(t *testing.T) {
	repos := newTestRepos(t)
	tracker, err := NewTracker(repos.Jobs)
	require.NoError(t, err)
	queue, err := NewQueue(repos.Jobs, repos.Queue, tracker)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := queue.Enqueue(ctx, core.JobTypeIngest, testPayload(), 0)
	require.NoError(t, err)

	// A lease that already expired simulates a crashed worker.
	_, err = repos.Queue.AcquireLease(ctx, id, "worker-dead", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	now := time.Now().UTC()
	stats, err := queue.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExpiredLeases)

	reaped, err := queue.ReapExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, id, reaped[0])

	ready, err := repos.Queue.ListReady(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, 1, ready[0].Attempt)
}
