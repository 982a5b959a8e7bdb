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

package courseforge

import (
	"log/slog"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/ai/openai"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/ingestion"
	"github.com/pedagogic/courseforge/jobs"
	"github.com/pedagogic/courseforge/search"
	"github.com/pedagogic/courseforge/stages"
	"github.com/pedagogic/courseforge/storage"
	"github.com/pedagogic/courseforge/storage/badger"
)

// Database bundles the storage backend, the AI provider and constructors
// for the job, ingestion and search services that run on top of them.
// One Database owns one badger directory.
type Database struct {
	repos    *badger.Repositories
	provider ai.Provider
	aiConfig *ai.Config
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	inMemory bool
}

// WithAIConfig sets the AI provider configuration.
// Default is ai.DefaultConfig().
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithInMemoryStorage keeps all records in memory. Intended for tests.
func WithInMemoryStorage() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// NewDatabase opens the storage backend at filePath and connects the AI
// provider. The embedding dimension of the vector store follows the AI
// configuration.
func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	options := &databaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.aiConfig.Validate(); err != nil {
		return nil, err
	}

	var repos *badger.Repositories
	var err error
	if options.inMemory {
		repos, err = badger.NewMemoryRepositories(options.aiConfig.EmbeddingDimension)
	} else {
		repos, err = badger.NewRepositories(filePath, options.aiConfig.EmbeddingDimension)
	}
	if err != nil {
		return nil, err
	}

	provider, err := openai.NewProvider(options.aiConfig)
	if err != nil {
		repos.Close()
		return nil, err
	}

	return &Database{
		repos:    repos,
		provider: provider,
		aiConfig: options.aiConfig,
		logger:   slog.Default(),
	}, nil
}

func (db *Database) Close() error {
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
	}
	if err := db.repos.Close(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		return err
	}
	return nil
}

func (db *Database) JobRepository() storage.JobRepository {
	return db.repos.Jobs
}

func (db *Database) StageRunRepository() storage.StageRunRepository {
	return db.repos.StageRuns
}

func (db *Database) QueueRepository() storage.QueueRepository {
	return db.repos.Queue
}

func (db *Database) ChunkRepository() storage.ChunkRepository {
	return db.repos.Chunks
}

func (db *Database) EmbeddingRepository() storage.EmbeddingRepository {
	return db.repos.Embeddings
}

func (db *Database) VectorPointRepository() storage.VectorPointRepository {
	return db.repos.Points
}

func (db *Database) Provider() ai.Provider {
	return db.provider
}

// NewTracker creates a job status tracker over the job store.
func (db *Database) NewTracker(opts ...jobs.TrackerOption) (*jobs.Tracker, error) {
	return jobs.NewTracker(db.repos.Jobs, opts...)
}

// NewJobQueue creates the durable job queue.
func (db *Database) NewJobQueue(tracker *jobs.Tracker, opts ...jobs.QueueOption) (*jobs.Queue, error) {
	return jobs.NewQueue(db.repos.Jobs, db.repos.Queue, tracker, opts...)
}

// NewWorker creates a queue worker running deliveries through handler.
func (db *Database) NewWorker(tracker *jobs.Tracker, queue *jobs.Queue, handler jobs.Handler, opts ...jobs.WorkerOption) (*jobs.Worker, error) {
	return jobs.NewWorker(db.repos.Jobs, db.repos.Queue, tracker, queue, handler, opts...)
}

// NewStageRunner creates a stage runner with the ingest and generation
// pipelines registered. source supplies converted documents for ingest
// jobs.
func (db *Database) NewStageRunner(source stages.DocumentSource, opts ...stages.RunnerOption) (*stages.Runner, error) {
	runner, err := stages.NewRunner(db.repos.StageRuns, db.repos.Queue, opts...)
	if err != nil {
		return nil, err
	}

	chunker, err := db.newChunker()
	if err != nil {
		return nil, err
	}
	embedder, err := ingestion.NewEmbeddingGenerator(db.provider.Embedder(), db.repos.Embeddings)
	if err != nil {
		return nil, err
	}
	if err := runner.Register(core.JobTypeIngest, stages.IngestPhases(stages.IngestDeps{
		Source:     source,
		Chunker:    chunker,
		Embedder:   embedder,
		Chunks:     db.repos.Chunks,
		Embeddings: db.repos.Embeddings,
		Points:     db.repos.Points,
	})); err != nil {
		return nil, err
	}

	searcher, err := search.NewSearcher(db.repos.Points, db.provider.Embedder())
	if err != nil {
		return nil, err
	}
	deps := stages.GenerateDeps{Searcher: searcher, Generator: db.provider.Generator()}
	if err := runner.Register(core.JobTypeGenerateOutline, stages.OutlinePhases(deps)); err != nil {
		return nil, err
	}
	if err := runner.Register(core.JobTypeGenerateLessons, stages.LessonPhases(deps)); err != nil {
		return nil, err
	}
	return runner, nil
}

// NewIngestionPipeline creates the synchronous ingestion pipeline, for
// callers that ingest documents outside the job machinery.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	chunker, err := db.newChunker()
	if err != nil {
		return nil, err
	}
	embedder, err := ingestion.NewEmbeddingGenerator(db.provider.Embedder(), db.repos.Embeddings)
	if err != nil {
		return nil, err
	}
	return ingestion.NewPipeline(chunker, embedder, db.repos.Chunks, db.repos.Points, opts...)
}

// NewSearcher creates a tenant-scoped hybrid searcher.
func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	return search.NewSearcher(db.repos.Points, db.provider.Embedder(), opts...)
}

func (db *Database) newChunker() (*ingestion.Chunker, error) {
	counter, err := ingestion.NewTiktokenCounter("cl100k_base")
	if err != nil {
		return nil, err
	}
	return ingestion.NewChunker(counter, ingestion.DefaultChunkerConfig())
}
