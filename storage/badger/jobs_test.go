package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

func newTestRepos(t *testing.T, dimension int) *Repositories {
	t.Helper()
	repos, err := NewMemoryRepositories(dimension)
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	t.Cleanup(func() { repos.Close() })
	return repos
}

func testJob(id core.JobID) *core.Job {
	return &core.Job{
		Id:   id,
		Type: core.JobTypeIngest,
		Payload: core.JobPayload{
			OrganizationID: "org-1",
			CourseID:       "course-1",
			DocumentIDs:    []string{"doc-1"},
		},
		Priority:  5,
		CreatedAt: time.Now(),
	}
}

func TestJobCreateAndGet(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	status, err := repos.Jobs.CreateJob(ctx, testJob("job-1"))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if status.State != core.JobStatePending {
		t.Fatalf("Expected PENDING, got %s", status.State)
	}
	if status.AttemptCount != 0 {
		t.Fatalf("Expected attempt count 0, got %d", status.AttemptCount)
	}

	job, err := repos.Jobs.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.Payload.OrganizationID != "org-1" {
		t.Fatalf("Expected 'org-1', got '%s'", job.Payload.OrganizationID)
	}

	// Creating the same job again must fail
	if _, err := repos.Jobs.CreateJob(ctx, testJob("job-1")); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestJobGetMissing(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	if _, err := repos.Jobs.GetJob(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if _, err := repos.Jobs.GetStatus(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestJobTransition(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	if _, err := repos.Jobs.CreateJob(ctx, testJob("job-1")); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	status, err := repos.Jobs.Transition(ctx, "job-1", func(s *core.JobStatus) (bool, error) {
		s.State = core.JobStateActive
		s.StartedAt = time.Now()
		return true, nil
	})
	if err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}
	if status.State != core.JobStateActive {
		t.Fatalf("Expected ACTIVE, got %s", status.State)
	}
	if status.StartedAt.IsZero() {
		t.Fatal("Expected StartedAt to be set")
	}

	// A declined transition leaves the record untouched
	before := status.UpdatedAt
	status, err = repos.Jobs.Transition(ctx, "job-1", func(s *core.JobStatus) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}
	if !status.UpdatedAt.Equal(before) {
		t.Fatal("Declined transition must not touch UpdatedAt")
	}
}

func TestJobTransitionConcurrent(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	if _, err := repos.Jobs.CreateJob(ctx, testJob("job-1")); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	// Many goroutines race to increment the attempt counter. Serializable
	// transactions must make every increment count exactly once.
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Jobs.Transition(ctx, "job-1", func(s *core.JobStatus) (bool, error) {
				s.AttemptCount++
				return true, nil
			})
			if err != nil {
				t.Errorf("Transition failed: %v", err)
			}
		}()
	}
	wg.Wait()

	status, err := repos.Jobs.GetStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if status.AttemptCount != workers {
		t.Fatalf("Expected attempt count %d, got %d", workers, status.AttemptCount)
	}
}

func TestStageRunAppendAndList(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	idx, err := repos.StageRuns.LatestPhaseIndex(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get latest index: %v", err)
	}
	if idx != -1 {
		t.Fatalf("Expected -1 with no runs, got %d", idx)
	}

	for i := 0; i < 3; i++ {
		run := &core.StageRun{
			JobId:      "job-1",
			PhaseIndex: i,
			PhaseName:  "phase",
			Output: core.PhaseOutput{
				Kind:       core.PhaseOutputChunks,
				ChunkIDs:   []core.ID{core.ID(i + 1)},
				ChildCount: i,
			},
			CompletedAt: time.Now(),
		}
		if err := repos.StageRuns.AppendStageRun(ctx, run); err != nil {
			t.Fatalf("Failed to append run %d: %v", i, err)
		}
	}

	runs, err := repos.StageRuns.GetStageRuns(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i, run := range runs {
		if run.PhaseIndex != i {
			t.Fatalf("Expected phase index %d at position %d, got %d", i, i, run.PhaseIndex)
		}
	}

	idx, err = repos.StageRuns.LatestPhaseIndex(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get latest index: %v", err)
	}
	if idx != 2 {
		t.Fatalf("Expected latest index 2, got %d", idx)
	}
}

func TestStageRunAppendIdempotent(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	first := &core.StageRun{
		JobId:       "job-1",
		PhaseIndex:  0,
		PhaseName:   "chunk",
		Output:      core.PhaseOutput{Kind: core.PhaseOutputChunks, ChildCount: 7},
		CompletedAt: time.Now(),
	}
	if err := repos.StageRuns.AppendStageRun(ctx, first); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	// A second write for the same phase must not replace the stored output
	second := &core.StageRun{
		JobId:       "job-1",
		PhaseIndex:  0,
		PhaseName:   "chunk",
		Output:      core.PhaseOutput{Kind: core.PhaseOutputChunks, ChildCount: 99},
		CompletedAt: time.Now(),
	}
	if err := repos.StageRuns.AppendStageRun(ctx, second); err != nil {
		t.Fatalf("Failed to re-append: %v", err)
	}

	runs, err := repos.StageRuns.GetStageRuns(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Output.ChildCount != 7 {
		t.Fatalf("Expected original output preserved, got child count %d", runs[0].Output.ChildCount)
	}
}
