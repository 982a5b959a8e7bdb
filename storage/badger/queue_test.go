package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

func putEntry(t *testing.T, repos *Repositories, jobID core.JobID, priority int, readyAt time.Time) {
	t.Helper()
	entry := &storage.QueueEntry{
		JobId:      jobID,
		Priority:   priority,
		ReadyAt:    readyAt,
		EnqueuedAt: time.Now(),
	}
	if err := repos.Queue.PutEntry(context.Background(), entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
}

func TestQueueListReadyOrdering(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "low", 1, now.Add(-time.Minute))
	putEntry(t, repos, "high", 9, now.Add(-time.Minute))
	putEntry(t, repos, "mid", 5, now.Add(-time.Minute))
	putEntry(t, repos, "deferred", 9, now.Add(time.Hour))

	ready, err := repos.Queue.ListReady(ctx, now, 10)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("Expected 3 ready entries, got %d", len(ready))
	}
	if ready[0].JobId != "high" || ready[1].JobId != "mid" || ready[2].JobId != "low" {
		t.Fatalf("Wrong order: %s, %s, %s", ready[0].JobId, ready[1].JobId, ready[2].JobId)
	}

	ready, err = repos.Queue.ListReady(ctx, now, 2)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("Expected limit of 2, got %d", len(ready))
	}
}

func TestQueueLeaseLifecycle(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "job-1", 0, now.Add(-time.Minute))

	lease, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-a", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}
	if lease.Attempt != 1 {
		t.Fatalf("Expected attempt 1, got %d", lease.Attempt)
	}

	// A second worker cannot claim a live lease
	if _, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-b", now.Add(time.Minute)); !errors.Is(err, storage.ErrLeaseHeld) {
		t.Fatalf("Expected ErrLeaseHeld, got %v", err)
	}

	// A leased entry is not listed as ready
	ready, err := repos.Queue.ListReady(ctx, now, 10)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("Expected no ready entries while leased, got %d", len(ready))
	}

	if err := repos.Queue.RenewLease(ctx, "job-1", "worker-a", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Failed to renew lease: %v", err)
	}
	if err := repos.Queue.RenewLease(ctx, "job-1", "worker-b", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrLeaseLost) {
		t.Fatalf("Expected ErrLeaseLost for wrong owner, got %v", err)
	}

	if err := repos.Queue.Ack(ctx, "job-1", "worker-a"); err != nil {
		t.Fatalf("Failed to ack: %v", err)
	}

	// The entry is gone after ack
	if _, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-a", now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after ack, got %v", err)
	}
}

func TestQueueAcquireRace(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "job-1", 0, now.Add(-time.Minute))

	// Exactly one of the racing workers may win the lease
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := repos.Queue.AcquireLease(ctx, "job-1", string(rune('a'+n)), now.Add(time.Minute))
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, storage.ErrLeaseHeld) {
				t.Errorf("Unexpected acquire error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("Expected exactly 1 winner, got %d", wins.Load())
	}
}

func TestQueueExpiredLeaseRedelivery(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "job-1", 0, now.Add(-time.Minute))

	// Lease that is already past its deadline
	if _, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-a", now.Add(-time.Second)); err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}

	expired, err := repos.Queue.ExpiredLeases(ctx, now)
	if err != nil {
		t.Fatalf("Failed to list expired leases: %v", err)
	}
	if len(expired) != 1 || expired[0].JobId != "job-1" {
		t.Fatalf("Expected job-1 expired, got %v", expired)
	}

	// The entry becomes ready again and another worker can claim it
	ready, err := repos.Queue.ListReady(ctx, now, 10)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("Expected 1 ready entry after expiry, got %d", len(ready))
	}

	lease, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-b", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to re-acquire after expiry: %v", err)
	}
	if lease.Attempt != 2 {
		t.Fatalf("Expected attempt 2 on redelivery, got %d", lease.Attempt)
	}
}

func TestQueueRequeue(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "job-1", 0, now.Add(-time.Minute))
	if _, err := repos.Queue.AcquireLease(ctx, "job-1", "worker-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}

	backoffUntil := now.Add(30 * time.Second)
	if err := repos.Queue.Requeue(ctx, "job-1", 2, backoffUntil); err != nil {
		t.Fatalf("Failed to requeue: %v", err)
	}

	// Not ready until the backoff passes
	ready, err := repos.Queue.ListReady(ctx, now, 10)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("Expected no ready entries during backoff, got %d", len(ready))
	}

	ready, err = repos.Queue.ListReady(ctx, backoffUntil.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to list ready: %v", err)
	}
	if len(ready) != 1 || ready[0].Attempt != 2 {
		t.Fatalf("Expected requeued entry with attempt 2, got %v", ready)
	}
}

func TestQueueRemoveEntry(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()
	now := time.Now()

	putEntry(t, repos, "job-1", 0, now.Add(-time.Minute))

	removed, err := repos.Queue.RemoveEntry(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to remove entry: %v", err)
	}
	if !removed {
		t.Fatal("Expected entry to be removed")
	}

	removed, err = repos.Queue.RemoveEntry(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed on second remove: %v", err)
	}
	if removed {
		t.Fatal("Expected no-op on missing entry")
	}

	// A leased entry cannot be removed
	putEntry(t, repos, "job-2", 0, now.Add(-time.Minute))
	if _, err := repos.Queue.AcquireLease(ctx, "job-2", "worker-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to acquire lease: %v", err)
	}
	removed, err = repos.Queue.RemoveEntry(ctx, "job-2")
	if err != nil {
		t.Fatalf("Failed to remove leased entry: %v", err)
	}
	if removed {
		t.Fatal("Expected leased entry to stay")
	}
}

func TestQueueCancelFlag(t *testing.T) {
	repos := newTestRepos(t, 3)
	ctx := context.Background()

	requested, err := repos.Queue.CancelRequested(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to check cancel flag: %v", err)
	}
	if requested {
		t.Fatal("Expected no cancel flag initially")
	}

	if err := repos.Queue.RequestCancel(ctx, "job-1"); err != nil {
		t.Fatalf("Failed to request cancel: %v", err)
	}

	requested, err = repos.Queue.CancelRequested(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to check cancel flag: %v", err)
	}
	if !requested {
		t.Fatal("Expected cancel flag to be set")
	}
}
