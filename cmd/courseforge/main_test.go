package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/stages"
	storagebadger "github.com/pedagogic/courseforge/storage/badger"
)

func TestParseJobType(t *testing.T) {
	tests := []struct {
		input   string
		want    core.JobType
		wantErr bool
	}{
		{"ingest", core.JobTypeIngest, false},
		{"Outline", core.JobTypeGenerateOutline, false},
		{"LESSONS", core.JobTypeGenerateLessons, false},
		{"reindex", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseJobType(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"topic=photosynthesis", "top_k=10"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "photosynthesis", "top_k": "10"}, params)

	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"no-separator"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=value"})
	assert.Error(t, err)
}

func TestParseHeadings(t *testing.T) {
	text := "# Title\n\nIntro text.\n\n## Section One\n\nBody.\n\n### Deep\n\nnot a # heading\n####### too deep\n"
	headings := parseHeadings(text)
	require.Len(t, headings, 3)

	assert.Equal(t, core.Heading{Level: 1, Title: "Title", Offset: 0}, headings[0])
	assert.Equal(t, 2, headings[1].Level)
	assert.Equal(t, "Section One", headings[1].Title)
	assert.Equal(t, 3, headings[2].Level)
	assert.Equal(t, "Deep", headings[2].Title)

	// Offsets point at the heading lines.
	assert.Equal(t, byte('#'), text[headings[1].Offset])
	assert.Equal(t, byte('#'), text[headings[2].Offset])
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	content := "# Guide\n\nSome body text.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte(content), 0644))

	source, err := newFileSource(dir)
	require.NoError(t, err)

	doc, err := source.GetDocument(context.Background(), "org-a", "course-1", "guide")
	require.NoError(t, err)
	assert.Equal(t, "guide", doc.ID)
	assert.Equal(t, "org-a", doc.OrganizationID)
	assert.Equal(t, content, doc.Text)
	require.Len(t, doc.Headings, 1)
	assert.Equal(t, "Guide", doc.Headings[0].Title)

	_, err = source.GetDocument(context.Background(), "org-a", "course-1", "missing")
	assert.Error(t, err)

	_, err = source.GetDocument(context.Background(), "org-a", "course-1", "../guide")
	assert.Error(t, err)
}

func TestStageRunnerOptionsApplyPhaseTimeout(t *testing.T) {
	set := flag.NewFlagSet("worker", flag.ContinueOnError)
	set.Duration("phase-timeout", 5*time.Minute, "")
	require.NoError(t, set.Set("phase-timeout", "20ms"))
	c := cli.NewContext(nil, set, nil)

	repos, err := storagebadger.NewMemoryRepositories(3)
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	opts := append(stageRunnerOptions(c), stages.WithPhaseRetry(1, time.Millisecond))
	runner, err := stages.NewRunner(repos.StageRuns, repos.Queue, opts...)
	require.NoError(t, err)

	stall := stages.Phase{
		Name: "stall",
		Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, runner.Register(core.JobTypeIngest, []stages.Phase{stall}))

	job := &core.Job{
		Id:   "job-timeout",
		Type: core.JobTypeIngest,
		Payload: core.JobPayload{
			OrganizationID: "org-a",
			CourseID:       "course-1",
			DocumentIDs:    []string{"doc-1"},
		},
		CreatedAt: time.Now().UTC(),
	}

	start := time.Now()
	err = runner.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second, "flag timeout not applied")
}

func TestFileSourceRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not_a_dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := newFileSource(file)
	assert.Error(t, err)

	_, err = newFileSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
