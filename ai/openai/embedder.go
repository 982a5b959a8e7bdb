package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pedagogic/courseforge/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder     embeddings.Embedder
	modelVersion string
	dimension    int
	logger       *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder:     embedder,
		modelVersion: config.EmbeddingModel,
		dimension:    config.EmbeddingDimension,
		logger:       slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedTexts generates vector embeddings for a batch of texts. A result
// count that differs from the input count is reported as an error rather
// than aligned by position.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings", "count", len(texts), "task", task)

	var vectors [][]float32
	var err error
	if task == ai.TaskQuery {
		// Query embeddings go through the query path so models that
		// encode queries differently from passages behave correctly.
		vectors = make([][]float32, 0, len(texts))
		for _, text := range texts {
			var vec []float32
			vec, err = e.embedder.EmbedQuery(ctx, text)
			if err != nil {
				break
			}
			vectors = append(vectors, vec)
		}
	} else {
		vectors, err = e.embedder.EmbedDocuments(ctx, texts)
	}
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), e.dimension)
		}
	}
	return vectors, nil
}

// ModelVersion identifies the embedding model.
func (e *Embedder) ModelVersion() string {
	return e.modelVersion
}

// Dimension is the fixed vector length of this embedder.
func (e *Embedder) Dimension() int {
	return e.dimension
}
