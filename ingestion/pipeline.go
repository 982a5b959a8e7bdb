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
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Pipeline runs the full ingestion of a document: chunking, embedding,
// and vector indexing. Re-ingesting a document replaces its chunks and
// points rather than duplicating them.
type Pipeline struct {
	chunker   *Chunker
	generator *EmbeddingGenerator
	chunks    storage.ChunkRepository
	points    storage.VectorPointRepository
	pool      *ants.Pool
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for ingesting multiple documents
// concurrently. Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(
	chunker *Chunker,
	generator *EmbeddingGenerator,
	chunks storage.ChunkRepository,
	points storage.VectorPointRepository,
	opts ...Option,
) (*Pipeline, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if points == nil {
		return nil, ErrPointRepositoryRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		chunker:   chunker,
		generator: generator,
		chunks:    chunks,
		points:    points,
		pool:      pool,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Result summarizes one document's ingestion.
type Result struct {
	DocumentID   string
	ChunkIDs     []core.ID
	ParentCount  int
	ChildCount   int
	ModelVersion string
	PointCount   int
}

// IngestDocument chunks, embeds, and indexes one document. Embedding runs
// before any stale data is removed, so a failed run leaves the previous
// index intact.
func (p *Pipeline) IngestDocument(ctx context.Context, doc *core.Document) (*Result, error) {
	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return nil, err
	}

	vectors, err := p.generator.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := p.chunks.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	if err := p.chunks.PutChunks(ctx, chunks...); err != nil {
		return nil, err
	}

	points := make([]*core.VectorPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = &core.VectorPoint{
			ChunkId: chunk.Id,
			Vector:  vectors[i].Vector,
			Payload: core.PointPayload{
				OrganizationID: chunk.OrganizationID,
				CourseID:       chunk.CourseID,
				DocumentID:     chunk.DocumentID,
				Kind:           chunk.Kind,
				Text:           chunk.Text,
			},
		}
	}
	if err := p.points.DeletePointsByDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	if err := p.points.UpsertPoints(ctx, points...); err != nil {
		return nil, err
	}

	result := &Result{
		DocumentID:   doc.ID,
		ChunkIDs:     make([]core.ID, len(chunks)),
		ModelVersion: p.generator.embedder.ModelVersion(),
		PointCount:   len(points),
	}
	for i, chunk := range chunks {
		result.ChunkIDs[i] = chunk.Id
		if chunk.Kind == core.ChunkKindParent {
			result.ParentCount++
		} else {
			result.ChildCount++
		}
	}

	p.logger.Info("document ingested",
		"document", doc.ID,
		"parents", result.ParentCount,
		"children", result.ChildCount,
		"points", result.PointCount)
	return result, nil
}

// IngestDocuments ingests documents concurrently on the worker pool.
// Results are returned in input order; the first error is returned after
// all submitted documents finish.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []*core.Document) ([]*Result, error) {
	results := make([]*Result, len(docs))
	errs := make([]error, len(docs))

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		i, doc := i, doc
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = p.IngestDocument(ctx, doc)
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = submitErr
		}
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Release releases the worker pool. The pipeline should not be used after
// calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
