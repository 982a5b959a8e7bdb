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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
//
// Alongside each chunk record a secondary key under the document prefix is
// written, so that all chunks of one document can be listed or deleted with
// a single prefix scan.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// Close implements storage.ChunkRepository.
func (r *ChunkRepository) Close() error {
	return nil
}

// PutChunks stores a batch of chunks in one transaction. Child chunks must
// reference a parent that either exists already or appears in the same
// batch; otherwise the whole batch fails with ErrMissingParent.
func (r *ChunkRepository) PutChunks(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	inBatch := make(map[core.ID]bool, len(chunks))
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		inBatch[chunk.Id] = true
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, chunk := range chunks {
			if chunk.Kind == core.ChunkKindChild && !inBatch[chunk.ParentId] {
				_, err := tx.Get(makeChunkKey(chunk.ParentId))
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("chunk %d: %w", chunk.Id, storage.ErrMissingParent)
				}
				if err != nil {
					return err
				}
			}

			data := storage.MarshalChunk(chunk)
			if err := tx.Set(makeChunkKey(chunk.Id), data); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(chunk.DocumentID, chunk.Id), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var chunk *core.Chunk

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		chunk, err = readChunk(tx, id)
		return err
	}, false)

	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// GetChunksByDocument returns all chunks of a document ordered by kind
// (parents first) and then by order index.
func (r *ChunkRepository) GetChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		ids, err := scanDocumentChunkIDs(tx, documentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			chunk, err := readChunk(tx, id)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}

	slices.SortFunc(chunks, func(a, b *core.Chunk) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return a.OrderIndex - b.OrderIndex
	})

	if chunks == nil {
		chunks = []*core.Chunk{}
	}
	return chunks, nil
}

// DeleteChunksByDocument removes all chunks of a document.
func (r *ChunkRepository) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		ids, err := scanDocumentChunkIDs(tx, documentID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.Delete(makeChunkKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkDocKey(documentID, id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

func readChunk(tx *badger.Txn, id core.ID) (*core.Chunk, error) {
	item, err := tx.Get(makeChunkKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		chunk, unmarshalErr = storage.UnmarshalChunk(val)
		return unmarshalErr
	})
	return chunk, err
}

func scanDocumentChunkIDs(tx *badger.Txn, documentID string) ([]core.ID, error) {
	prefix := makeChunkDocScanPrefix(documentID)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []core.ID
	for iter.Rewind(); iter.Valid(); iter.Next() {
		key := iter.Item().Key()
		if len(key) != len(prefix)+8 {
			return nil, storage.ErrTruncatedData
		}
		ids = append(ids, core.ID(binary.BigEndian.Uint64(key[len(prefix):])))
	}
	return ids, nil
}
