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
	"strconv"
	"strings"

	"github.com/pedagogic/courseforge/ai"
	"github.com/pedagogic/courseforge/core"
	"github.com/pedagogic/courseforge/search"
)

const defaultRetrievalTopK = 8

const outlineSystemPrompt = `You are a curriculum designer. Using only the
provided source passages, produce a structured course outline with numbered
modules and lessons. Do not invent material absent from the passages.`

const lessonSystemPrompt = `You are a course author. Using only the provided
source passages and the given outline, write complete lesson content in
markdown. Do not invent material absent from the passages.`

// GenerateDeps bundles the collaborators of the generation phases.
type GenerateDeps struct {
	Searcher  *search.Searcher
	Generator ai.ContentGenerator
}

// OutlinePhases builds the phase pipeline for outline generation jobs:
// retrieve grounding passages within the job's tenant scope, then
// generate the outline from them.
func OutlinePhases(deps GenerateDeps) []Phase {
	return []Phase{
		retrievePhase(deps),
		{
			Name:    "outline",
			Expects: core.PhaseOutputRetrieval,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				retrieved := prior[len(prior)-1]
				prompt := buildGenerationPrompt(job.Payload.Params["topic"], "", retrieved.Passages)
				return generateContent(ctx, deps.Generator, outlineSystemPrompt, prompt)
			},
		},
	}
}

// LessonPhases builds the phase pipeline for lesson generation jobs.
// The outline produced by a previous job arrives in the payload params.
func LessonPhases(deps GenerateDeps) []Phase {
	return []Phase{
		retrievePhase(deps),
		{
			Name:    "lessons",
			Expects: core.PhaseOutputRetrieval,
			Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
				retrieved := prior[len(prior)-1]
				prompt := buildGenerationPrompt(job.Payload.Params["topic"], job.Payload.Params["outline"], retrieved.Passages)
				return generateContent(ctx, deps.Generator, lessonSystemPrompt, prompt)
			},
		},
	}
}

// retrievePhase queries the vector index for passages grounding the
// generation, scoped to the job's tenant.
func retrievePhase(deps GenerateDeps) Phase {
	return Phase{
		Name: "retrieve",
		Run: func(ctx context.Context, job *core.Job, prior []*core.PhaseOutput) (*core.PhaseOutput, error) {
			topic := job.Payload.Params["topic"]
			if strings.TrimSpace(topic) == "" {
				return nil, ErrMissingTopic
			}

			topK := defaultRetrievalTopK
			if raw, ok := job.Payload.Params["top_k"]; ok {
				if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
					topK = parsed
				}
			}

			filter := core.TenantFilter{
				OrganizationID: job.Payload.OrganizationID,
				CourseID:       job.Payload.CourseID,
			}
			matches, err := deps.Searcher.Search(ctx, topic, filter, topK)
			if err != nil {
				return nil, err
			}

			passages := make([]string, len(matches))
			for i, match := range matches {
				passages[i] = match.Point.Payload.Text
			}
			return &core.PhaseOutput{
				Kind:     core.PhaseOutputRetrieval,
				Passages: passages,
			}, nil
		},
	}
}

func generateContent(ctx context.Context, generator ai.ContentGenerator, systemPrompt, userPrompt string) (*core.PhaseOutput, error) {
	content, err := generator.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyGeneration
	}
	return &core.PhaseOutput{
		Kind:    core.PhaseOutputContent,
		Content: content,
	}, nil
}

// buildGenerationPrompt assembles the user prompt from the topic, an
// optional outline, and the retrieved passages.
func buildGenerationPrompt(topic, outline string, passages []string) string {
	var b strings.Builder
	b.WriteString("Topic: ")
	b.WriteString(topic)
	b.WriteString("\n")
	if outline != "" {
		b.WriteString("\nOutline:\n")
		b.WriteString(outline)
		b.WriteString("\n")
	}
	b.WriteString("\nSource passages:\n")
	for i, passage := range passages {
		b.WriteString("\n[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(passage)
		b.WriteString("\n")
	}
	return b.String()
}
