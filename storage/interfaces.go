package storage

import (
	"context"
	"time"

	"github.com/pedagogic/courseforge/core"
)

// QueueEntry is the durable record of a job waiting for (re)delivery.
// ReadyAt defers delivery for retry backoff; Attempt counts deliveries.
type QueueEntry struct {
	JobId      core.JobID
	Priority   int
	Attempt    int
	ReadyAt    time.Time
	EnqueuedAt time.Time
}

// Lease records exclusive delivery ownership of a job by one worker.
// An expired lease makes the entry eligible for redelivery.
type Lease struct {
	JobId    core.JobID
	WorkerID string
	Attempt  int
	Deadline time.Time
}

// JobRepository provides durable persistence of jobs and their lifecycle
// state. Implementations must be thread-safe and support concurrent access.
type JobRepository interface {
	// CreateJob stores a job together with its initial PENDING status.
	// Returns ErrDuplicateKey if the job already exists.
	CreateJob(ctx context.Context, job *core.Job) (*core.JobStatus, error)

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id core.JobID) (*core.Job, error)

	// GetStatus retrieves the status record for a job.
	// Returns ErrNotFound if no status row exists; callers must treat that
	// differently from a terminal row.
	GetStatus(ctx context.Context, id core.JobID) (*core.JobStatus, error)

	// Transition applies a conditional state change. The apply function
	// receives the current status and mutates it in place, returning true
	// to commit the change or false to leave the record untouched. The
	// whole read-decide-write sequence executes atomically: concurrent
	// transitions on the same job serialize, and no caller ever observes a
	// half-applied update. Implementations must not use delays to achieve
	// this. Returns the status as of the end of the transition.
	Transition(ctx context.Context, id core.JobID, apply func(*core.JobStatus) (bool, error)) (*core.JobStatus, error)

	// Close releases resources held by the repository.
	Close() error
}

// StageRunRepository persists per-job phase results.
type StageRunRepository interface {
	// AppendStageRun durably records a completed phase. Writing the same
	// (job, phase index) twice is idempotent: the stored output of a
	// completed phase is never replaced.
	AppendStageRun(ctx context.Context, run *core.StageRun) error

	// GetStageRuns returns all recorded phase results for a job, ordered
	// by phase index ascending. Returns an empty slice when none exist.
	GetStageRuns(ctx context.Context, jobID core.JobID) ([]*core.StageRun, error)

	// LatestPhaseIndex returns the highest phase index recorded for a job,
	// or -1 when no phases have completed.
	LatestPhaseIndex(ctx context.Context, jobID core.JobID) (int, error)

	Close() error
}

// QueueRepository persists the delivery state of the job queue: pending
// entries, leases, and cancellation flags. The queue itself drives
// delivery; this interface only guarantees durability and the conditional
// semantics of lease acquisition.
type QueueRepository interface {
	// PutEntry stores or replaces a pending entry for a job.
	PutEntry(ctx context.Context, entry *QueueEntry) error

	// ListReady returns up to limit unleased entries whose ReadyAt is not
	// after now, ordered by priority descending then enqueue time.
	ListReady(ctx context.Context, now time.Time, limit int) ([]*QueueEntry, error)

	// AcquireLease atomically claims an entry for a worker. Fails with
	// ErrLeaseHeld if a live lease exists, ErrNotFound if the entry is gone.
	AcquireLease(ctx context.Context, jobID core.JobID, workerID string, deadline time.Time) (*Lease, error)

	// RenewLease extends a held lease. Fails with ErrLeaseLost if the
	// lease is missing or owned by a different worker.
	RenewLease(ctx context.Context, jobID core.JobID, workerID string, deadline time.Time) error

	// Ack removes the entry and its lease after successful processing.
	Ack(ctx context.Context, jobID core.JobID, workerID string) error

	// Requeue releases the lease and re-stores the entry with the given
	// attempt count and ReadyAt, making the job eligible for redelivery.
	Requeue(ctx context.Context, jobID core.JobID, attempt int, readyAt time.Time) error

	// ExpiredLeases returns leases whose deadline passed before now.
	ExpiredLeases(ctx context.Context, now time.Time) ([]*Lease, error)

	// RemoveEntry deletes a pending, unleased entry. Returns true if an
	// entry was removed; false if the job was not pending (already leased
	// or absent).
	RemoveEntry(ctx context.Context, jobID core.JobID) (bool, error)

	// RequestCancel sets the cooperative cancellation flag for a job.
	RequestCancel(ctx context.Context, jobID core.JobID) error

	// CancelRequested reports whether cancellation was requested.
	CancelRequested(ctx context.Context, jobID core.JobID) (bool, error)

	Close() error
}

// ChunkRepository persists document chunks.
type ChunkRepository interface {
	// PutChunks stores chunks, replacing existing chunks with the same ID.
	// Every child must reference a parent stored in the same call or
	// already stored for the same document; otherwise ErrMissingParent.
	PutChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// GetChunksByDocument returns all chunks of a document ordered by
	// kind (parents first) then order index.
	GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// DeleteChunksByDocument removes all chunks of a document.
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	Close() error
}

// EmbeddingRepository persists embedding records and the content-hash
// embedding cache.
type EmbeddingRepository interface {
	// PutEmbeddings stores embedding records keyed by (chunk, model
	// version). Existing records for older model versions are retained,
	// never mutated.
	PutEmbeddings(ctx context.Context, vectors ...*core.EmbeddingVector) error

	// GetEmbedding retrieves the embedding of a chunk for a model version.
	// Returns ErrNotFound if absent.
	GetEmbedding(ctx context.Context, chunkID core.ID, modelVersion string) (*core.EmbeddingVector, error)

	// GetCachedVector looks up a cached vector by content-hash key.
	// The bool result reports whether the cache held the key.
	GetCachedVector(ctx context.Context, key core.ID) ([]float32, bool, error)

	// PutCachedVector stores a vector under a content-hash key.
	PutCachedVector(ctx context.Context, key core.ID, vector []float32) error

	Close() error
}

// VectorPointRepository persists searchable vector points with their
// tenant-scoping payload.
type VectorPointRepository interface {
	// UpsertPoints stores points keyed by chunk ID, overwriting stale
	// vectors for the same chunk. Every point's vector must match the
	// repository's configured dimension.
	UpsertPoints(ctx context.Context, points ...*core.VectorPoint) error

	// Search returns the topK points most similar to the query vector,
	// restricted to the tenant filter. The filter is applied as a hard
	// predicate before ranking, never as post-filtering of a global topK.
	// Returns an empty slice when nothing matches.
	Search(ctx context.Context, queryVector []float32, filter core.TenantFilter, topK int) ([]*core.PointMatch, error)

	// ScanTenant visits every point within the tenant filter. Used by the
	// hybrid searcher to compute lexical scores inside the tenant boundary.
	ScanTenant(ctx context.Context, filter core.TenantFilter, fn func(*core.VectorPoint) error) error

	// DeletePointsByDocument removes all points of a document.
	DeletePointsByDocument(ctx context.Context, documentID string) error

	// CountPoints returns the number of stored points within the filter.
	CountPoints(ctx context.Context, filter core.TenantFilter) (int, error)

	Close() error
}
