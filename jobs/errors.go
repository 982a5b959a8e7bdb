package jobs

import "errors"

var (
	// ErrJobRepositoryRequired indicates a nil job repository was supplied.
	ErrJobRepositoryRequired = errors.New("job repository is required")

	// ErrQueueRepositoryRequired indicates a nil queue repository was supplied.
	ErrQueueRepositoryRequired = errors.New("queue repository is required")

	// ErrTrackerRequired indicates a nil tracker was supplied.
	ErrTrackerRequired = errors.New("tracker is required")

	// ErrHandlerRequired indicates a nil delivery handler was supplied.
	ErrHandlerRequired = errors.New("handler is required")

	// ErrInvalidMaxAttempts indicates a non-positive delivery attempt limit.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrJobCancelled is returned by handlers that stopped at a phase
	// boundary because cancellation was requested.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrStatusUnknown indicates a state transition could not be durably
	// recorded. The job's true state is unknown and the caller must not
	// emit duplicate side effects.
	ErrStatusUnknown = errors.New("job status unknown")
)
