package ingestion

import "errors"

var (
	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbeddingRepositoryRequired is returned when an embedding repository is not provided.
	ErrEmbeddingRepositoryRequired = errors.New("embedding repository required")

	// ErrPointRepositoryRequired is returned when a vector point repository is not provided.
	ErrPointRepositoryRequired = errors.New("vector point repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrCountMismatch indicates the embedding service returned a different
	// number of vectors than texts sent. Pairing them positionally would
	// silently attach wrong vectors to chunks, so this always fails the
	// batch.
	ErrCountMismatch = errors.New("embedding count mismatch")

	// ErrInvalidBudget indicates a non-positive or inverted token budget.
	ErrInvalidBudget = errors.New("invalid token budget")
)
