package reindex

import "errors"

var (
	// ErrPointRepositoryRequired indicates a nil vector point repository.
	ErrPointRepositoryRequired = errors.New("vector point repository is required")

	// ErrEmbeddingRepositoryRequired indicates a nil embedding repository.
	ErrEmbeddingRepositoryRequired = errors.New("embedding repository is required")

	// ErrEmbedderRequired indicates a nil embedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrCountMismatch indicates the embedding service returned a different
	// number of vectors than texts sent. Never retried.
	ErrCountMismatch = errors.New("embedding count mismatch")
)
