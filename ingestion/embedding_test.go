package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/ai/mock"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks(n int) []*core.Chunk {
	parent := &core.Chunk{
		Id:             1,
		DocumentID:     "doc-1",
		OrganizationID: "org-1",
		CourseID:       "course-1",
		Kind:           core.ChunkKindParent,
		Text:           "Parent heading\nParent body text.",
	}
	chunks := []*core.Chunk{parent}
	for i := 1; i < n; i++ {
		chunks = append(chunks, &core.Chunk{
			Id:             core.ID(i + 1),
			ParentId:       1,
			DocumentID:     "doc-1",
			OrganizationID: "org-1",
			CourseID:       "course-1",
			Kind:           core.ChunkKindChild,
			Text:           "Child passage " + string(rune('a'+i)),
			OrderIndex:     i - 1,
		})
	}
	return chunks
}

func TestEmbedChunksProducesOneVectorPerChunk(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	embedder := mock.NewMockEmbedder()
	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings)
	require.NoError(t, err)

	chunks := testChunks(4)
	vectors, err := generator.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, vectors, 4)

	for i, vec := range vectors {
		assert.Equal(t, chunks[i].Id, vec.ChunkId)
		assert.Len(t, vec.Vector, 8)
		assert.Equal(t, "mock-embedder-v1", vec.ModelVersion)
	}

	// Vectors are persisted per (chunk, model version)
	stored, err := repos.Embeddings.GetEmbedding(context.Background(), chunks[0].Id, "mock-embedder-v1")
	require.NoError(t, err)
	assert.Equal(t, vectors[0].Vector, stored.Vector)
}

func TestEmbedChunksUsesCache(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	embedder := mock.NewMockEmbedder()
	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings)
	require.NoError(t, err)

	chunks := testChunks(4)
	_, err = generator.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	firstCalls := embedder.CallCount()
	require.Greater(t, firstCalls, 0)

	// Second run over identical chunks is served from the cache
	_, err = generator.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, embedder.CallCount(), "no new service calls expected")
}

func TestEmbedChunksCountMismatchFailsWithoutRetry(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
		// One vector short: pairing positionally would corrupt data
		vectors := make([][]float32, len(texts)-1)
		for i := range vectors {
			vectors[i] = make([]float32, 8)
		}
		return vectors, nil
	}

	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings,
		WithRetry(5, time.Millisecond))
	require.NoError(t, err)

	_, err = generator.EmbedChunks(context.Background(), testChunks(3))
	require.ErrorIs(t, err, ErrCountMismatch)
	assert.Equal(t, 1, embedder.CallCount(), "data-integrity errors are not retried")
}

func TestEmbedChunksDimensionMismatchFails(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = make([]float32, 4) // wrong dimension
		}
		return vectors, nil
	}

	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings)
	require.NoError(t, err)

	_, err = generator.EmbedChunks(context.Background(), testChunks(2))
	require.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestEmbedChunksRetriesTransientFailure(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	failures := 2
	embedder := mock.NewMockEmbedder()
	inner := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("upstream 503")
		}
		return inner.EmbedTexts(ctx, texts, task)
	}

	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings,
		WithRetry(4, time.Millisecond))
	require.NoError(t, err)

	vectors, err := generator.EmbedChunks(context.Background(), testChunks(2))
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestEmbedChunksBatches(t *testing.T) {
	repos, err := badger.NewMemoryRepositories(8)
	require.NoError(t, err)
	defer repos.Close()

	var batchSizes []int
	embedder := mock.NewMockEmbedder()
	inner := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
		batchSizes = append(batchSizes, len(texts))
		return inner.EmbedTexts(ctx, texts, task)
	}

	generator, err := NewEmbeddingGenerator(embedder, repos.Embeddings, WithBatchSize(3))
	require.NoError(t, err)

	_, err = generator.EmbedChunks(context.Background(), testChunks(7))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, batchSizes)
}
