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

// Repositories bundles all badger-backed repositories sharing one backend.
type Repositories struct {
	Jobs       *JobRepository
	StageRuns  *StageRunRepository
	Queue      *QueueRepository
	Chunks     *ChunkRepository
	Embeddings *EmbeddingRepository
	Points     *VectorPointRepository

	backend *Backend
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories(dimension int) (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	return newRepositories(backend, dimension), nil
}

// NewRepositories creates repositories backed by an on-disk store.
func NewRepositories(filePath string, dimension int) (*Repositories, error) {
	backend, err := OpenBackend(filePath, false)
	if err != nil {
		return nil, err
	}
	return newRepositories(backend, dimension), nil
}

func newRepositories(backend *Backend, dimension int) *Repositories {
	return &Repositories{
		Jobs:       NewJobRepository(backend),
		StageRuns:  NewStageRunRepository(backend),
		Queue:      NewQueueRepository(backend),
		Chunks:     NewChunkRepository(backend),
		Embeddings: NewEmbeddingRepository(backend),
		Points:     NewVectorPointRepository(backend, dimension),
		backend:    backend,
	}
}

// Close closes all repositories and the shared backend.
func (r *Repositories) Close() error {
	r.Jobs.Close()
	r.StageRuns.Close()
	r.Queue.Close()
	r.Chunks.Close()
	r.Embeddings.Close()
	r.Points.Close()
	return r.backend.Close()
}
