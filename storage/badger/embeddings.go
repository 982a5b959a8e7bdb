package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/storage"
)

// EmbeddingRepository implements storage.EmbeddingRepository for BadgerDB.
type EmbeddingRepository struct {
	backend *Backend
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(backend *Backend) *EmbeddingRepository {
	return &EmbeddingRepository{backend: backend}
}

// Close implements storage.EmbeddingRepository.
func (r *EmbeddingRepository) Close() error {
	return nil
}

// PutEmbeddings stores a batch of embedding vectors in one transaction.
func (r *EmbeddingRepository) PutEmbeddings(ctx context.Context, vectors ...*core.EmbeddingVector) error {
	if len(vectors) == 0 {
		return nil
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, vec := range vectors {
			key := makeEmbeddingKey(vec.ChunkId, vec.ModelVersion)
			if err := tx.Set(key, storage.MarshalEmbeddingVector(vec)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetEmbedding retrieves the embedding of a chunk for one model version.
func (r *EmbeddingRepository) GetEmbedding(ctx context.Context, chunkID core.ID, modelVersion string) (*core.EmbeddingVector, error) {
	var vec *core.EmbeddingVector

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingKey(chunkID, modelVersion))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			vec, unmarshalErr = storage.UnmarshalEmbeddingVector(val)
			return unmarshalErr
		})
	}, false)

	if err != nil {
		return nil, err
	}
	return vec, nil
}

// GetCachedVector looks up a previously computed vector by cache key.
func (r *EmbeddingRepository) GetCachedVector(ctx context.Context, key core.ID) ([]float32, bool, error) {
	var vector []float32
	found := false

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingCacheKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			vector, unmarshalErr = storage.UnmarshalVector(val)
			return unmarshalErr
		})
	}, false)

	if err != nil {
		return nil, false, err
	}
	return vector, found, nil
}

// PutCachedVector stores a computed vector under its cache key.
func (r *EmbeddingRepository) PutCachedVector(ctx context.Context, key core.ID, vector []float32) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeEmbeddingCacheKey(key), storage.MarshalVector(vector)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
