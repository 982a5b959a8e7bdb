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

package reindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/backoff"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// Config holds tuning for a reindex run.
type Config struct {
	// BatchSize is the number of chunks sent per embedding call.
	BatchSize int

	// ReportInterval is how often progress is reported, in chunks.
	ReportInterval int

	// MaxAttempts bounds retries of failed embedding calls.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxAttempts:    3,
		RetryDelay:     time.Second,
	}
}

// Reindexer re-embeds every vector point of a tenant with the embedder's
// model and replaces the points in place. New embedding records are
// appended under the new model version; records for previous versions
// stay untouched.
type Reindexer struct {
	points     storage.VectorPointRepository
	embeddings storage.EmbeddingRepository
	embedder   ai.Embedder
	config     *Config
	progress   io.Writer
}

// NewReindexer creates a reindexer. progress receives human-readable
// progress output, typically os.Stderr.
func NewReindexer(points storage.VectorPointRepository, embeddings storage.EmbeddingRepository, embedder ai.Embedder, config *Config, progress io.Writer) (*Reindexer, error) {
	if points == nil {
		return nil, ErrPointRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reindexer{
		points:     points,
		embeddings: embeddings,
		embedder:   embedder,
		config:     config,
		progress:   progress,
	}, nil
}

// Result summarizes a reindex run.
type Result struct {
	PointCount   int
	ModelVersion string
	Elapsed      time.Duration
}

// Run re-embeds all points within the tenant filter in batches. A failed
// batch aborts the run; batches already processed keep their new vectors,
// which is safe because reindexing is idempotent per chunk.
func (r *Reindexer) Run(ctx context.Context, filter core.TenantFilter) (*Result, error) {
	if err := core.ValidateTenantFilter(filter); err != nil {
		return nil, err
	}

	var points []*core.VectorPoint
	err := r.points.ScanTenant(ctx, filter, func(point *core.VectorPoint) error {
		points = append(points, point)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning tenant points: %w", err)
	}

	modelVersion := r.embedder.ModelVersion()
	tracker := NewProgressTracker(r.progress, len(points), r.config.ReportInterval)
	tracker.Start()

	for start := 0; start < len(points); start += r.config.BatchSize {
		end := min(start+r.config.BatchSize, len(points))
		if err := r.processBatch(ctx, points[start:end]); err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		tracker.Increment(end - start)
	}
	tracker.Finish()

	return &Result{
		PointCount:   len(points),
		ModelVersion: modelVersion,
		Elapsed:      tracker.Elapsed(),
	}, nil
}

// processBatch embeds one batch of point texts and persists both the new
// embedding records and the replacement points.
func (r *Reindexer) processBatch(ctx context.Context, batch []*core.VectorPoint) error {
	texts := make([]string, len(batch))
	for i, point := range batch {
		texts[i] = point.Payload.Text
	}

	var vectors [][]float32
	err := backoff.Retry(ctx, func() error {
		embedded, embedErr := r.embedder.EmbedTexts(ctx, texts, ai.TaskPassage)
		if embedErr != nil {
			return embedErr
		}
		if len(embedded) != len(texts) {
			return backoff.MarkPermanent(fmt.Errorf("%w: sent %d texts, got %d vectors",
				ErrCountMismatch, len(texts), len(embedded)))
		}
		vectors = embedded
		return nil
	}, r.config.MaxAttempts, r.config.RetryDelay)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	modelVersion := r.embedder.ModelVersion()
	records := make([]*core.EmbeddingVector, len(batch))
	for i, point := range batch {
		vector := core.NormalizeVector(vectors[i])
		point.Vector = vector
		records[i] = &core.EmbeddingVector{
			ChunkId:      point.ChunkId,
			Vector:       vector,
			ModelVersion: modelVersion,
			CreatedAt:    now,
		}
	}

	if err := r.embeddings.PutEmbeddings(ctx, records...); err != nil {
		return fmt.Errorf("storing embedding records: %w", err)
	}
	if err := r.points.UpsertPoints(ctx, batch...); err != nil {
		return fmt.Errorf("replacing points: %w", err)
	}
	return nil
}
