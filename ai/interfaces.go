package ai

import "context"

// EmbedTask hints how an embedding will be used. Some models encode
// documents and search queries differently, so the task must accompany
// every embedding request.
type EmbedTask int

const (
	// TaskPassage embeds text that will be stored and searched against.
	TaskPassage EmbedTask = iota + 1
	// TaskQuery embeds a search query.
	TaskQuery
)

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedTexts generates embeddings for a batch of texts. The returned
	// slice contains one vector per input text, in input order; a result
	// count that differs from the input count is an error, never silently
	// aligned.
	EmbedTexts(ctx context.Context, texts []string, task EmbedTask) ([][]float32, error)

	// ModelVersion identifies the embedding model. Vectors from different
	// model versions are not comparable and must never be mixed.
	ModelVersion() string

	// Dimension is the fixed length of every vector this embedder
	// produces.
	Dimension() int
}

// ContentGenerator produces course material from a prompt.
// Implementations must be thread-safe for concurrent use.
type ContentGenerator interface {
	// Generate produces text for the given system and user prompts.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider aggregates AI services for convenient initialization and
// lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the content generation service.
	Generator() ContentGenerator

	// Close releases resources held by the provider and its services.
	Close() error
}
