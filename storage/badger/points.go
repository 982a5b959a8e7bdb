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

package badger

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// VectorPointRepository implements storage.VectorPointRepository for
// BadgerDB.
//
// Point keys lead with the tenant scope (organization, then course), so
// every read path is a prefix scan that structurally cannot cross a
// tenant boundary. Search ranks by cosine similarity over the scan.
type VectorPointRepository struct {
	backend   *Backend
	dimension int
}

var _ storage.VectorPointRepository = (*VectorPointRepository)(nil)

// NewVectorPointRepository creates a repository that accepts only vectors
// of the given dimension.
func NewVectorPointRepository(backend *Backend, dimension int) *VectorPointRepository {
	return &VectorPointRepository{backend: backend, dimension: dimension}
}

// Close implements storage.VectorPointRepository.
func (r *VectorPointRepository) Close() error {
	return nil
}

// UpsertPoints stores points keyed by chunk ID, overwriting stale vectors
// for the same chunk. All dimensions are validated before anything is
// written, so a bad batch leaves the store untouched.
func (r *VectorPointRepository) UpsertPoints(ctx context.Context, points ...*core.VectorPoint) error {
	for _, p := range points {
		if len(p.Vector) != r.dimension {
			return fmt.Errorf("point %d has dimension %d, store requires %d: %w",
				p.ChunkId, len(p.Vector), r.dimension, core.ErrDimensionMismatch)
		}
		if p.Payload.OrganizationID == "" {
			return core.ErrMissingOrganization
		}
		if p.Payload.CourseID == "" {
			return core.ErrMissingCourse
		}
		// Identifiers become key segments; a ':' would let one tenant's
		// key range reach into another's.
		if err := core.ValidateIdentifier(p.Payload.OrganizationID); err != nil {
			return err
		}
		if err := core.ValidateIdentifier(p.Payload.CourseID); err != nil {
			return err
		}
		if err := core.ValidateIdentifier(p.Payload.DocumentID); err != nil {
			return err
		}
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, p := range points {
			key := makePointKey(p.Payload.OrganizationID, p.Payload.CourseID, p.ChunkId)
			if err := tx.Set(key, storage.MarshalVectorPoint(p)); err != nil {
				return err
			}
			if err := tx.Set(makePointDocKey(p.Payload.DocumentID, p.ChunkId), key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Search returns the topK points most similar to the query vector within
// the tenant filter. The filter bounds the key range scanned, so no point
// outside the tenant is ever considered for ranking.
func (r *VectorPointRepository) Search(ctx context.Context, queryVector []float32, filter core.TenantFilter, topK int) ([]*core.PointMatch, error) {
	if err := core.ValidateTenantFilter(filter); err != nil {
		return nil, err
	}
	if len(queryVector) != r.dimension {
		return nil, fmt.Errorf("query has dimension %d, store requires %d: %w",
			len(queryVector), r.dimension, core.ErrDimensionMismatch)
	}
	if topK <= 0 {
		return []*core.PointMatch{}, nil
	}

	h := &matchHeap{}
	heap.Init(h)

	err := r.scanPrefix(tenantScanPrefix(filter), func(point *core.VectorPoint) error {
		score := core.CosineSimilarity(queryVector, point.Vector)
		if h.Len() < topK {
			heap.Push(h, &core.PointMatch{Point: point, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = &core.PointMatch{Point: point, Score: score}
			heap.Fix(h, 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	matches := make([]*core.PointMatch, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		matches[i] = heap.Pop(h).(*core.PointMatch)
	}
	return matches, nil
}

// ScanTenant visits every point within the tenant filter.
func (r *VectorPointRepository) ScanTenant(ctx context.Context, filter core.TenantFilter, fn func(*core.VectorPoint) error) error {
	if err := core.ValidateTenantFilter(filter); err != nil {
		return err
	}
	return r.scanPrefix(tenantScanPrefix(filter), fn)
}

// DeletePointsByDocument removes all points of a document via the
// document index.
func (r *VectorPointRepository) DeletePointsByDocument(ctx context.Context, documentID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePointDocScanPrefix(documentID)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)

		type pair struct{ indexKey, pointKey []byte }
		var pairs []pair
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			pointKey, err := item.ValueCopy(nil)
			if err != nil {
				iter.Close()
				return err
			}
			pairs = append(pairs, pair{indexKey: item.KeyCopy(nil), pointKey: pointKey})
		}
		iter.Close()

		for _, p := range pairs {
			if err := tx.Delete(p.pointKey); err != nil {
				return err
			}
			if err := tx.Delete(p.indexKey); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// CountPoints returns the number of stored points within the filter.
func (r *VectorPointRepository) CountPoints(ctx context.Context, filter core.TenantFilter) (int, error) {
	if err := core.ValidateTenantFilter(filter); err != nil {
		return 0, err
	}

	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tenantScanPrefix(filter)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)

	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *VectorPointRepository) scanPrefix(prefix []byte, fn func(*core.VectorPoint) error) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var point *core.VectorPoint
			err := iter.Item().Value(func(val []byte) error {
				var unmarshalErr error
				point, unmarshalErr = storage.UnmarshalVectorPoint(val)
				return unmarshalErr
			})
			if err != nil {
				return err
			}
			if err := fn(point); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

func tenantScanPrefix(filter core.TenantFilter) []byte {
	if filter.CourseID != "" {
		return makePointCourseScanPrefix(filter.OrganizationID, filter.CourseID)
	}
	return makePointOrgScanPrefix(filter.OrganizationID)
}

// matchHeap is a min-heap by score used to keep the running topK during a
// search scan.
type matchHeap []*core.PointMatch

func (h matchHeap) Len() int            { return len(h) }
func (h matchHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x interface{}) { *h = append(*h, x.(*core.PointMatch)) }
func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
