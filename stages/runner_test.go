package stages

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/jobs"
	storagebadger "github.com/pedagogic/courseforge/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) *storagebadger.Repositories {
	t.Helper()
	repos, err := storagebadger.NewMemoryRepositories(8)
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	return repos
}

func newTestRunner(t *testing.T, repos *storagebadger.Repositories) *Runner {
	t.Helper()
	runner, err := NewRunner(repos.StageRuns, repos.Queue,
		WithPhaseRetry(3, time.Millisecond),
		WithPhaseTimeout(5*time.Second))
	require.NoError(t, err)
	return runner
}

func testJob(id core.JobID, jobType core.JobType) *core.Job {
	return &core.Job{
		Id:   id,
		Type: jobType,
		Payload: core.JobPayload{
			OrganizationID: "org-a",
			CourseID:       "course-1",
			DocumentIDs:    []string{"doc-1"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

// countingPhase produces a fixed output and counts executions.
func countingPhase(name string, expects core.PhaseOutputKind, kind core.PhaseOutputKind, calls *atomic.Int32) Phase {
	return Phase{
		Name:    name,
		Expects: expects,
		Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
			calls.Add(1)
			return &core.PhaseOutput{Kind: kind, Content: name}, nil
		},
	}
}

func TestRunnerExecutesPhasesInOrder(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var first, second atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeGenerateOutline, []Phase{
		countingPhase("retrieve", 0, core.PhaseOutputRetrieval, &first),
		countingPhase("outline", core.PhaseOutputRetrieval, core.PhaseOutputContent, &second),
	}))

	job := testJob("job-1", core.JobTypeGenerateOutline)
	require.NoError(t, runner.Execute(context.Background(), job))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())

	runs, err := repos.StageRuns.GetStageRuns(context.Background(), job.Id)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].PhaseIndex)
	assert.Equal(t, "retrieve", runs[0].PhaseName)
	assert.Equal(t, core.PhaseOutputRetrieval, runs[0].Output.Kind)
	assert.Equal(t, 1, runs[1].PhaseIndex)
	assert.Equal(t, "outline", runs[1].PhaseName)
}

func TestRunnerResumesAfterRecordedPhase(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var first, second atomic.Int32
	failSecond := atomic.Bool{}
	failSecond.Store(true)
	require.NoError(t, runner.Register(core.JobTypeGenerateOutline, []Phase{
		countingPhase("retrieve", 0, core.PhaseOutputRetrieval, &first),
		{
			Name:    "outline",
			Expects: core.PhaseOutputRetrieval,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				second.Add(1)
				if failSecond.Load() {
					return nil, ErrEmptyGeneration
				}
				return &core.PhaseOutput{Kind: core.PhaseOutputContent, Content: "done"}, nil
			},
		},
	}))

	job := testJob("job-1", core.JobTypeGenerateOutline)
	err := runner.Execute(context.Background(), job)
	require.ErrorIs(t, err, ErrEmptyGeneration)
	assert.Equal(t, int32(1), first.Load())

	// Redelivery resumes after the recorded first phase.
	failSecond.Store(false)
	require.NoError(t, runner.Execute(context.Background(), job))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(2), second.Load())

	runs, err := repos.StageRuns.GetStageRuns(context.Background(), job.Id)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunnerRetriesTransientPhaseFailure(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var calls atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeIngest, []Phase{
		{
			Name: "flaky",
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				if calls.Add(1) < 3 {
					return nil, errors.New("upstream 503")
				}
				return &core.PhaseOutput{Kind: core.PhaseOutputIndex, PointCount: 1}, nil
			},
		},
	}))

	require.NoError(t, runner.Execute(context.Background(), testJob("job-1", core.JobTypeIngest)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunnerDoesNotRetryDataIntegrityFailure(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var calls atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeIngest, []Phase{
		{
			Name: "embed",
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				calls.Add(1)
				return nil, core.ErrDimensionMismatch
			},
		},
	}))

	err := runner.Execute(context.Background(), testJob("job-1", core.JobTypeIngest))
	require.ErrorIs(t, err, core.ErrDimensionMismatch)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunnerObservesCancellationAtPhaseBoundary(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var second atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeIngest, []Phase{
		{
			Name: "first",
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				// Cancellation arrives while the phase is in flight; it must
				// finish and only the boundary check stops the job.
				err := repos.Queue.RequestCancel(ctx, job.Id)
				if err != nil {
					return nil, err
				}
				return &core.PhaseOutput{Kind: core.PhaseOutputDocument, DocumentID: "doc-1"}, nil
			},
		},
		countingPhase("second", core.PhaseOutputDocument, core.PhaseOutputChunks, &second),
	}))

	job := testJob("job-1", core.JobTypeIngest)
	err := runner.Execute(context.Background(), job)
	require.ErrorIs(t, err, jobs.ErrJobCancelled)
	assert.Equal(t, int32(0), second.Load())

	// The in-flight phase's output was still persisted.
	runs, err := repos.StageRuns.GetStageRuns(context.Background(), job.Id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].PhaseName)
}

func TestRunnerValidatesPhaseOutputKind(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	var calls atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeIngest, []Phase{
		countingPhase("first", 0, core.PhaseOutputDocument, &calls),
		countingPhase("second", core.PhaseOutputEmbeddings, core.PhaseOutputIndex, &calls),
	}))

	err := runner.Execute(context.Background(), testJob("job-1", core.JobTypeIngest))
	require.ErrorIs(t, err, core.ErrUnexpectedPhaseOutput)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunnerRejectsUnknownJobType(t *testing.T) {
	repos := newTestRepos(t)
	runner := newTestRunner(t, repos)

	err := runner.Execute(context.Background(), testJob("job-1", core.JobTypeIngest))
	require.ErrorIs(t, err, ErrUnknownJobType)
}

func TestRunnerPhaseTimeout(t *testing.T) {
	repos := newTestRepos(t)
	runner, err := NewRunner(repos.StageRuns, repos.Queue,
		WithPhaseRetry(2, time.Millisecond))
	require.NoError(t, err)

	var calls atomic.Int32
	require.NoError(t, runner.Register(core.JobTypeIngest, []Phase{
		{
			Name:    "slow",
			Timeout: 20 * time.Millisecond,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				calls.Add(1)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					return &core.PhaseOutput{Kind: core.PhaseOutputIndex}, nil
				}
			},
		},
	}))

	err = runner.Execute(context.Background(), testJob("job-1", core.JobTypeIngest))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
}
