// Copyright 2025 Pedagogic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/backoff"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// EmbeddingGenerator turns chunks into embedding vectors. It batches
// chunk texts against the embedding service, caches vectors by content
// hash so unchanged chunks skip the service on re-ingestion, and retries
// transient failures with backoff. Count or dimension mismatches from the
// service are data-integrity failures and are never retried.
type EmbeddingGenerator struct {
	embedder    ai.Embedder
	embeddings  storage.EmbeddingRepository
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
	withContext bool
	logger      *slog.Logger
}

// EmbeddingOption configures an EmbeddingGenerator.
type EmbeddingOption func(*EmbeddingGenerator)

// WithBatchSize bounds how many texts go to the service per request.
// Default is 32.
func WithBatchSize(size int) EmbeddingOption {
	return func(g *EmbeddingGenerator) {
		if size > 0 {
			g.batchSize = size
		}
	}
}

// WithRetry sets the retry budget for transient service failures.
func WithRetry(maxAttempts int, baseDelay time.Duration) EmbeddingOption {
	return func(g *EmbeddingGenerator) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			g.baseDelay = baseDelay
		}
	}
}

// WithContextPropagation embeds child chunks with their parent's opening
// text prepended, so short passages keep their section context. Enabled
// by default.
func WithContextPropagation(enabled bool) EmbeddingOption {
	return func(g *EmbeddingGenerator) {
		g.withContext = enabled
	}
}

// WithEmbeddingLogger sets a custom logger.
func WithEmbeddingLogger(logger *slog.Logger) EmbeddingOption {
	return func(g *EmbeddingGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewEmbeddingGenerator creates an embedding generator.
func NewEmbeddingGenerator(embedder ai.Embedder, embeddings storage.EmbeddingRepository, opts ...EmbeddingOption) (*EmbeddingGenerator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}

	g := &EmbeddingGenerator{
		embedder:    embedder,
		embeddings:  embeddings,
		batchSize:   32,
		maxAttempts: 4,
		baseDelay:   500 * time.Millisecond,
		withContext: true,
		logger:      slog.Default().With("component", "embedding-generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// EmbedChunks produces one embedding vector per chunk, in chunk order.
// Nothing is persisted unless every batch succeeds, so a failed run never
// leaves a partially embedded document behind.
func (g *EmbeddingGenerator) EmbedChunks(ctx context.Context, chunks []*core.Chunk) ([]*core.EmbeddingVector, error) {
	if len(chunks) == 0 {
		return []*core.EmbeddingVector{}, nil
	}

	modelVersion := g.embedder.ModelVersion()
	parents := make(map[core.ID]*core.Chunk)
	for _, chunk := range chunks {
		if chunk.Kind == core.ChunkKindParent {
			parents[chunk.Id] = chunk
		}
	}

	// Resolve cache hits first; only misses go to the service.
	embedTexts := make([]string, len(chunks))
	cacheKeys := make([]core.ID, len(chunks))
	vectors := make([][]float32, len(chunks))
	var missIdx []int

	for i, chunk := range chunks {
		embedTexts[i] = g.embedText(chunk, parents)
		cacheKeys[i] = core.IDFromContent(embedTexts[i] + "\x00" + modelVersion)

		cached, found, err := g.embeddings.GetCachedVector(ctx, cacheKeys[i])
		if err != nil {
			return nil, err
		}
		if found {
			vectors[i] = cached
		} else {
			missIdx = append(missIdx, i)
		}
	}
	g.logger.Debug("embedding chunks", "total", len(chunks), "cached", len(chunks)-len(missIdx))

	for start := 0; start < len(missIdx); start += g.batchSize {
		end := min(start+g.batchSize, len(missIdx))
		batch := missIdx[start:end]

		texts := make([]string, len(batch))
		for i, idx := range batch {
			texts[i] = embedTexts[idx]
		}

		var result [][]float32
		err := backoff.Retry(ctx, func() error {
			res, embedErr := g.embedder.EmbedTexts(ctx, texts, ai.TaskPassage)
			if embedErr != nil {
				return embedErr
			}
			if len(res) != len(texts) {
				return backoff.MarkPermanent(fmt.Errorf("%w: got %d vectors for %d texts", ErrCountMismatch, len(res), len(texts)))
			}
			for i, vec := range res {
				if len(vec) != g.embedder.Dimension() {
					return backoff.MarkPermanent(fmt.Errorf("%w: vector %d has dimension %d, expected %d",
						core.ErrDimensionMismatch, i, len(vec), g.embedder.Dimension()))
				}
			}
			result = res
			return nil
		}, g.maxAttempts, g.baseDelay)
		if err != nil {
			g.logger.Error("embedding batch failed", "size", len(batch), "err", err)
			return nil, err
		}

		for i, idx := range batch {
			vectors[idx] = result[i]
		}
	}

	now := time.Now().UTC()
	records := make([]*core.EmbeddingVector, len(chunks))
	for i, chunk := range chunks {
		records[i] = &core.EmbeddingVector{
			ChunkId:      chunk.Id,
			Vector:       vectors[i],
			ModelVersion: modelVersion,
			CreatedAt:    now,
		}
	}

	if err := g.embeddings.PutEmbeddings(ctx, records...); err != nil {
		return nil, err
	}
	for i := range chunks {
		if err := g.embeddings.PutCachedVector(ctx, cacheKeys[i], vectors[i]); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// embedText returns the text actually sent to the embedder. Children get
// their parent's opening line prepended when context propagation is on;
// the stored chunk text is never modified.
func (g *EmbeddingGenerator) embedText(chunk *core.Chunk, parents map[core.ID]*core.Chunk) string {
	if !g.withContext || chunk.Kind != core.ChunkKindChild {
		return chunk.Text
	}
	parent, ok := parents[chunk.ParentId]
	if !ok || parent.Text == chunk.Text {
		return chunk.Text
	}

	context := parent.Text
	if idx := strings.IndexByte(context, '\n'); idx > 0 {
		context = context[:idx]
	}
	return context + "\n\n" + chunk.Text
}
