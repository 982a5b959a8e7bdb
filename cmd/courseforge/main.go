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

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	slogmulti "github.com/samber/slog-multi"
	"github.com/urfave/cli/v2"

	courseforge "github.com/pedagogic/courseforge"
	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/jobs"
	"github.com/pedagogic/courseforge/reindex"
	"github.com/pedagogic/courseforge/stages"
)

func main() {
	app := &cli.App{
		Name:  "courseforge",
		Usage: "Course content generation from ingested source documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write JSON logs to this file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "worker",
				Usage:  "Run the job queue worker",
				Action: workerCommand,
				Flags: append(databaseFlags(), append(aiFlags(),
					&cli.StringFlag{
						Name:     "docs-dir",
						Usage:    "Directory holding converted source documents",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of jobs processed at once",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "max-attempts",
						Usage: "Delivery attempts before a job fails permanently",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "lease-ttl",
						Usage: "Lease duration for claimed jobs",
						Value: 30 * time.Second,
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "Queue polling interval",
						Value: 500 * time.Millisecond,
					},
					&cli.DurationFlag{
						Name:  "phase-timeout",
						Usage: "Maximum execution time per phase",
						Value: 5 * time.Minute,
					})...),
			},
			{
				Name:      "enqueue",
				Usage:     "Enqueue a job",
				ArgsUsage: "[document ids or params]",
				Action:    enqueueCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "type",
						Usage:    "Job type (ingest, outline, lessons)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "org",
						Usage:    "Organization id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "course",
						Usage:    "Course id",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Document id (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "param",
						Usage: "Job parameter as key=value (repeatable)",
					},
					&cli.IntFlag{
						Name:  "priority",
						Usage: "Delivery priority, higher first",
					}),
			},
			{
				Name:      "status",
				Usage:     "Show a job's status and recorded phases",
				ArgsUsage: "<job id>",
				Action:    statusCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:      "cancel",
				Usage:     "Request cancellation of a job",
				ArgsUsage: "<job id>",
				Action:    cancelCommand,
				Flags:     databaseFlags(),
			},
			{
				Name:   "stats",
				Usage:  "Show queue depth and expired leases",
				Action: statsCommand,
				Flags:  databaseFlags(),
			},
			{
				Name:      "search",
				Usage:     "Search the vector index within a tenant",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: append(databaseFlags(), append(aiFlags(),
					&cli.StringFlag{
						Name:     "org",
						Usage:    "Organization id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "course",
						Usage: "Course id",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of results",
						Value: 5,
					})...),
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed a tenant's indexed chunks with a new embedding model",
				Action: reindexCommand,
				Flags: append(databaseFlags(), append(aiFlags(),
					&cli.StringFlag{
						Name:     "org",
						Usage:    "Organization id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "course",
						Usage: "Course id",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks per embedding call",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed embedding calls",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					})...),
			},
			{
				Name:      "ingest",
				Usage:     "Ingest documents synchronously, outside the job queue",
				ArgsUsage: "<document id> [document id ...]",
				Action:    ingestCommand,
				Flags: append(databaseFlags(), append(aiFlags(),
					&cli.StringFlag{
						Name:     "docs-dir",
						Usage:    "Directory holding converted source documents",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "org",
						Usage:    "Organization id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "course",
						Usage:    "Course id",
						Required: true,
					})...),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
	}
}

func aiFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
		&cli.IntFlag{
			Name:  "embedding-dimension",
			Usage: "Embedding vector dimension",
			Value: 768,
		},
		&cli.StringFlag{
			Name:  "generator-host",
			Usage: "Generation service host URL (defaults to embedding-host)",
		},
		&cli.StringFlag{
			Name:  "generator-model",
			Usage: "Generation model name",
			Value: "qwen2.5:3b",
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "API key for the AI services",
			Value: "none",
		},
	}
}

func aiConfigFromFlags(c *cli.Context) *ai.Config {
	generatorHost := c.String("generator-host")
	if generatorHost == "" {
		generatorHost = c.String("embedding-host")
	}
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithEmbeddingDimension(c.Int("embedding-dimension")),
		ai.WithGeneratorHost(generatorHost),
		ai.WithGeneratorModel(c.String("generator-model")),
		ai.WithAPIKey(c.String("api-key")),
	)
}

func openDatabase(c *cli.Context) (*courseforge.Database, error) {
	db, err := courseforge.NewDatabase(c.String("db"),
		courseforge.WithAIConfig(aiConfigFromFlags(c)))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func workerCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	source, err := newFileSource(c.String("docs-dir"))
	if err != nil {
		return err
	}

	tracker, err := db.NewTracker(jobs.WithMaxAttempts(c.Int("max-attempts")))
	if err != nil {
		return err
	}
	queue, err := db.NewJobQueue(tracker)
	if err != nil {
		return err
	}
	runner, err := db.NewStageRunner(source, stageRunnerOptions(c)...)
	if err != nil {
		return err
	}
	worker, err := db.NewWorker(tracker, queue, runner.Handler(),
		jobs.WithConcurrency(c.Int("concurrency")),
		jobs.WithLeaseTTL(c.Duration("lease-ttl")),
		jobs.WithPollInterval(c.Duration("poll-interval")))
	if err != nil {
		return err
	}
	defer worker.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		worker.Stop()
	}()
	return worker.Run(context.Background())
}

// stageRunnerOptions maps the worker command's flags onto runner options.
func stageRunnerOptions(c *cli.Context) []stages.RunnerOption {
	return []stages.RunnerOption{
		stages.WithPhaseTimeout(c.Duration("phase-timeout")),
	}
}

func enqueueCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	jobType, err := parseJobType(c.String("type"))
	if err != nil {
		return err
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}

	tracker, err := db.NewTracker()
	if err != nil {
		return err
	}
	queue, err := db.NewJobQueue(tracker)
	if err != nil {
		return err
	}

	payload := core.JobPayload{
		OrganizationID: c.String("org"),
		CourseID:       c.String("course"),
		DocumentIDs:    c.StringSlice("doc"),
		Params:         params,
	}
	id, err := queue.Enqueue(c.Context, jobType, payload, c.Int("priority"))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one job id argument")
	}
	jobID := core.JobID(c.Args().First())

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	tracker, err := db.NewTracker()
	if err != nil {
		return err
	}
	status, err := tracker.GetStatus(c.Context, jobID)
	if err != nil {
		return err
	}

	fmt.Printf("state:     %s\n", status.State)
	fmt.Printf("attempts:  %d\n", status.AttemptCount)
	if !status.StartedAt.IsZero() {
		fmt.Printf("started:   %s\n", status.StartedAt.Format(time.RFC3339))
	}
	if !status.FinishedAt.IsZero() {
		fmt.Printf("finished:  %s\n", status.FinishedAt.Format(time.RFC3339))
	}
	if status.LastError != "" {
		fmt.Printf("last error: %s\n", status.LastError)
	}

	runs, err := db.StageRunRepository().GetStageRuns(c.Context, jobID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("phase %d (%s): %s at %s\n",
			run.PhaseIndex, run.PhaseName, run.Output.Kind,
			run.CompletedAt.Format(time.RFC3339))
	}
	return nil
}

func cancelCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one job id argument")
	}
	jobID := core.JobID(c.Args().First())

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	tracker, err := db.NewTracker()
	if err != nil {
		return err
	}
	queue, err := db.NewJobQueue(tracker)
	if err != nil {
		return err
	}

	accepted, err := queue.Cancel(c.Context, jobID)
	if err != nil {
		return err
	}
	if !accepted {
		fmt.Println("not cancelled: job is unknown or already finished")
		return nil
	}
	fmt.Println("cancellation accepted")
	return nil
}

func statsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	tracker, err := db.NewTracker()
	if err != nil {
		return err
	}
	queue, err := db.NewJobQueue(tracker)
	if err != nil {
		return err
	}

	stats, err := queue.Stats(c.Context, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("ready:          %d\n", stats.Ready)
	fmt.Printf("expired leases: %d\n", stats.ExpiredLeases)
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("expected a query argument")
	}
	query := strings.Join(c.Args().Slice(), " ")

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	searcher, err := db.NewSearcher()
	if err != nil {
		return err
	}

	filter := core.TenantFilter{
		OrganizationID: c.String("org"),
		CourseID:       c.String("course"),
	}
	matches, err := searcher.Search(c.Context, query, filter, c.Int("top-k"))
	if err != nil {
		return err
	}

	fmt.Printf("Found %d hits\n", len(matches))
	for i, match := range matches {
		text := match.Point.Payload.Text
		if len(text) > 120 {
			text = text[:120] + "..."
		}
		fmt.Printf("%d: [%0.3f] %s (%s)\n", i+1, match.Score, text, match.Point.Payload.DocumentID)
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	config := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxAttempts:    c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	reindexer, err := reindex.NewReindexer(db.VectorPointRepository(),
		db.EmbeddingRepository(), db.Provider().Embedder(), config, os.Stderr)
	if err != nil {
		return err
	}

	filter := core.TenantFilter{
		OrganizationID: c.String("org"),
		CourseID:       c.String("course"),
	}
	result, err := reindexer.Run(c.Context, filter)
	if err != nil {
		return err
	}
	fmt.Printf("Reindexed %d points under model %s in %s\n",
		result.PointCount, result.ModelVersion, result.Elapsed.Round(time.Millisecond))
	return nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("expected at least one document id argument")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	source, err := newFileSource(c.String("docs-dir"))
	if err != nil {
		return err
	}
	pipeline, err := db.NewIngestionPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	docs := make([]*core.Document, c.NArg())
	for i, docID := range c.Args().Slice() {
		doc, err := source.GetDocument(c.Context, c.String("org"), c.String("course"), docID)
		if err != nil {
			return err
		}
		docs[i] = doc
	}

	results, err := pipeline.IngestDocuments(c.Context, docs)
	if err != nil {
		return err
	}
	for _, result := range results {
		if result == nil {
			continue
		}
		fmt.Printf("%s: %d parents, %d children, %d points\n",
			result.DocumentID, result.ParentCount, result.ChildCount, result.PointCount)
	}
	return nil
}

func parseJobType(s string) (core.JobType, error) {
	switch strings.ToLower(s) {
	case "ingest":
		return core.JobTypeIngest, nil
	case "outline":
		return core.JobTypeGenerateOutline, nil
	case "lessons":
		return core.JobTypeGenerateLessons, nil
	default:
		return 0, fmt.Errorf("unknown job type %q: must be one of ingest, outline, lessons", s)
	}
}

func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	if logFile := c.String("log-file"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		jsonHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(slogmulti.Fanout(textHandler, jsonHandler)))
		return nil
	}

	slog.SetDefault(slog.New(textHandler))
	return nil
}
