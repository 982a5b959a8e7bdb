package stages

import "errors"

var (
	// ErrStageRunRepositoryRequired indicates a nil stage run repository.
	ErrStageRunRepositoryRequired = errors.New("stage run repository is required")

	// ErrQueueRepositoryRequired indicates a nil queue repository.
	ErrQueueRepositoryRequired = errors.New("queue repository is required")

	// ErrUnknownJobType indicates no phase pipeline is registered for the
	// job's type. Never retried.
	ErrUnknownJobType = errors.New("no phases registered for job type")

	// ErrNoPhases indicates an empty phase pipeline was registered.
	ErrNoPhases = errors.New("phase pipeline is empty")

	// ErrMissingDocument indicates an ingest payload without a document id.
	ErrMissingDocument = errors.New("ingest payload has no document id")

	// ErrMissingTopic indicates a generation payload without a topic param.
	ErrMissingTopic = errors.New("generation payload has no topic param")

	// ErrEmptyGeneration indicates the content generator returned nothing.
	ErrEmptyGeneration = errors.New("generator returned empty content")
)
