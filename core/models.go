package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for content-addressed entities (chunks, vector
// points). It is generated by hashing the entity's identifying content so
// that re-ingesting unchanged text maps to the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// JobID is an opaque identifier for a job, stable for the job's lifetime.
type JobID string

// JobType identifies which phase pipeline a job runs.
type JobType int

const (
	// JobTypeIngest converts, chunks, embeds and indexes a document.
	JobTypeIngest JobType = iota + 1
	// JobTypeGenerateOutline produces a course outline grounded on retrieval.
	JobTypeGenerateOutline
	// JobTypeGenerateLessons produces lesson content for an existing outline.
	JobTypeGenerateLessons
)

// JobState is the lifecycle state of a job.
// PENDING -> ACTIVE -> {COMPLETED | FAILED | CANCELLED}; terminal states are sticky.
type JobState int

const (
	JobStatePending JobState = iota + 1
	JobStateActive
	JobStateCompleted
	JobStateFailed
	JobStateCancelled
)

// IsTerminal reports whether the state permits no further transitions.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "pending"
	case JobStateActive:
		return "active"
	case JobStateCompleted:
		return "completed"
	case JobStateFailed:
		return "failed"
	case JobStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// JobPayload is the immutable input snapshot captured at enqueue time.
// Every payload carries the tenant scope; DocumentIDs and Params are
// job-type specific.
type JobPayload struct {
	OrganizationID string
	CourseID       string
	DocumentIDs    []string
	Params         map[string]string
}

// Job is a unit of work owned by the queue until dispatched.
// Execution ownership passes to the worker on delivery; status ownership
// always stays with the tracker.
type Job struct {
	Id        JobID
	Type      JobType
	Payload   JobPayload
	Priority  int
	CreatedAt time.Time
}

// JobStatus is the tracked lifecycle record for a job, 1:1 with Job.
// StartedAt and FinishedAt use the zero time as "not set"; once a terminal
// state is recorded, State, FinishedAt and StartedAt never change again.
type JobStatus struct {
	JobId        JobID
	State        JobState
	StartedAt    time.Time
	FinishedAt   time.Time
	AttemptCount int
	LastError    string
	UpdatedAt    time.Time
}

// StageRun is one completed phase of a job. Entries are append-only and
// ordered by PhaseIndex; a recovering orchestrator resumes after the
// highest index present.
type StageRun struct {
	JobId       JobID
	PhaseIndex  int
	PhaseName   string
	Output      PhaseOutput
	CompletedAt time.Time
}

// ChunkKind distinguishes the two chunk granularities.
type ChunkKind int

const (
	// ChunkKindParent is a section-level chunk.
	ChunkKindParent ChunkKind = iota + 1
	// ChunkKindChild is a passage-level chunk nested under a parent.
	ChunkKindChild
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkKindParent:
		return "parent"
	case ChunkKindChild:
		return "child"
	default:
		return "unknown"
	}
}

// Chunk is a bounded span of document text at parent (section) or child
// (passage) granularity. ParentId is 0 for parent chunks; child chunks
// reference their parent within the same document.
type Chunk struct {
	Id             ID
	ParentId       ID
	DocumentID     string
	OrganizationID string
	CourseID       string
	Kind           ChunkKind
	Text           string
	TokenCount     int
	OrderIndex     int
}

// EmbeddingVector is the embedding produced for a chunk. Records are
// immutable once written; re-embedding appends a new record with a newer
// ModelVersion rather than mutating in place.
type EmbeddingVector struct {
	ChunkId      ID
	Vector       []float32
	ModelVersion string
	CreatedAt    time.Time
}

// PointPayload is the tenant-scoping metadata stored alongside a vector.
type PointPayload struct {
	OrganizationID string
	CourseID       string
	DocumentID     string
	Kind           ChunkKind
	Text           string
}

// VectorPoint is the stored searchable unit: one vector per chunk, keyed
// by chunk ID so re-ingestion overwrites rather than duplicates.
type VectorPoint struct {
	ChunkId ID
	Vector  []float32
	Payload PointPayload
}

// TenantFilter scopes a vector search. OrganizationID is mandatory;
// CourseID narrows the scope further when non-empty.
type TenantFilter struct {
	OrganizationID string
	CourseID       string
}

// PointMatch is a vector search hit with its fused relevance score.
type PointMatch struct {
	Point *VectorPoint
	Score float32
}

// Heading is one entry of the hierarchy hint supplied by the document
// source. Offset is the byte position of the heading in the document text.
type Heading struct {
	Level  int
	Title  string
	Offset int
}

// Document is the converted text handed over by the document source,
// together with its heading hierarchy.
type Document struct {
	ID             string
	OrganizationID string
	CourseID       string
	Text           string
	Headings       []Heading
}
