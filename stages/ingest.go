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

package stages

import (
	"context"
	"fmt"

	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/ingestion"
	"github.com/pedagogic/courseforge/storage"
)

// DocumentSource provides converted document text plus its heading
// hierarchy for a document id. The conversion layer itself lives outside
// this module; the phases treat the source as an opaque contract.
type DocumentSource interface {
	GetDocument(ctx context.Context, organizationID, courseID, documentID string) (*core.Document, error)
}

// IngestDeps bundles the collaborators of the ingest pipeline phases.
type IngestDeps struct {
	Source     DocumentSource
	Chunker    *ingestion.Chunker
	Embedder   *ingestion.EmbeddingGenerator
	Chunks     storage.ChunkRepository
	Embeddings storage.EmbeddingRepository
	Points     storage.VectorPointRepository
}

// IngestPhases builds the phase pipeline for document ingestion jobs:
// convert, chunk, embed, index. Each ingest job processes one document;
// multi-document ingestion enqueues one job per document. Embedding runs
// against persisted chunks and the vector index is only replaced in the
// final phase, so a failed embed leaves the previous index searchable.
func IngestPhases(deps IngestDeps) []Phase {
	return []Phase{
		{
			Name: "convert",
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				if len(job.Payload.DocumentIDs) == 0 {
					return nil, ErrMissingDocument
				}
				doc, err := deps.Source.GetDocument(ctx,
					job.Payload.OrganizationID,
					job.Payload.CourseID,
					job.Payload.DocumentIDs[0])
				if err != nil {
					return nil, err
				}
				return &core.PhaseOutput{
					Kind:       core.PhaseOutputDocument,
					DocumentID: doc.ID,
					Text:       doc.Text,
					Headings:   doc.Headings,
				}, nil
			},
		},
		{
			Name:    "chunk",
			Expects: core.PhaseOutputDocument,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				converted := prior[len(prior)-1]
				doc := &core.Document{
					ID:             converted.DocumentID,
					OrganizationID: job.Payload.OrganizationID,
					CourseID:       job.Payload.CourseID,
					Text:           converted.Text,
					Headings:       converted.Headings,
				}

				chunks, err := deps.Chunker.Chunk(doc)
				if err != nil {
					return nil, err
				}
				// Content-hash ids make replacement idempotent across re-runs.
				if err := deps.Chunks.DeleteChunksByDocument(ctx, doc.ID); err != nil {
					return nil, err
				}
				if err := deps.Chunks.PutChunks(ctx, chunks...); err != nil {
					return nil, err
				}

				output := &core.PhaseOutput{
					Kind:     core.PhaseOutputChunks,
					ChunkIDs: make([]core.ID, len(chunks)),
				}
				for i, chunk := range chunks {
					output.ChunkIDs[i] = chunk.Id
					if chunk.Kind == core.ChunkKindParent {
						output.ParentCount++
					} else {
						output.ChildCount++
					}
				}
				return output, nil
			},
		},
		{
			Name:    "embed",
			Expects: core.PhaseOutputChunks,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				documentID := documentIDFromOutputs(prior)
				chunks, err := deps.Chunks.GetChunksByDocument(ctx, documentID)
				if err != nil {
					return nil, err
				}

				vectors, err := deps.Embedder.EmbedChunks(ctx, chunks)
				if err != nil {
					return nil, err
				}
				var modelVersion string
				if len(vectors) > 0 {
					modelVersion = vectors[0].ModelVersion
				}
				return &core.PhaseOutput{
					Kind:          core.PhaseOutputEmbeddings,
					EmbeddedCount: len(vectors),
					ModelVersion:  modelVersion,
				}, nil
			},
		},
		{
			Name:    "index",
			Expects: core.PhaseOutputEmbeddings,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				embedded := prior[len(prior)-1]
				documentID := documentIDFromOutputs(prior)
				chunks, err := deps.Chunks.GetChunksByDocument(ctx, documentID)
				if err != nil {
					return nil, err
				}

				points := make([]*core.VectorPoint, len(chunks))
				for i, chunk := range chunks {
					record, err := deps.Embeddings.GetEmbedding(ctx, chunk.Id, embedded.ModelVersion)
					if err != nil {
						return nil, fmt.Errorf("embedding for chunk %d: %w", chunk.Id, err)
					}
					points[i] = &core.VectorPoint{
						ChunkId: chunk.Id,
						Vector:  record.Vector,
						Payload: core.PointPayload{
							OrganizationID: chunk.OrganizationID,
							CourseID:       chunk.CourseID,
							DocumentID:     chunk.DocumentID,
							Kind:           chunk.Kind,
							Text:           chunk.Text,
						},
					}
				}

				if err := deps.Points.DeletePointsByDocument(ctx, documentID); err != nil {
					return nil, err
				}
				if err := deps.Points.UpsertPoints(ctx, points...); err != nil {
					return nil, err
				}
				return &core.PhaseOutput{
					Kind:       core.PhaseOutputIndex,
					PointCount: len(points),
				}, nil
			},
		},
	}
}

// documentIDFromOutputs finds the document id recorded by the convert
// phase.
func documentIDFromOutputs(outputs []*core.PhaseOutput) string {
	for _, output := range outputs {
		if output.Kind == core.PhaseOutputDocument {
			return output.DocumentID
		}
	}
	return ""
}
