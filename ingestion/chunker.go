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

package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pedagogic/courseforge/core"
)

// ChunkerConfig defines the token budgets for the two chunk levels.
type ChunkerConfig struct {
	// ParentTokenBudget is the maximum tokens per parent (section) chunk.
	ParentTokenBudget int
	// ChildTokenBudget is the maximum tokens per child (passage) chunk.
	ChildTokenBudget int
}

// DefaultChunkerConfig returns the standard budgets.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ParentTokenBudget: 500,
		ChildTokenBudget:  150,
	}
}

// Chunker splits a converted document into a two-level hierarchy: parent
// chunks at section granularity, child chunks at passage granularity.
// Chunking is deterministic: identical input and configuration always
// produce identical chunks, text, and order indexes.
type Chunker struct {
	config  ChunkerConfig
	counter TokenCounter
}

// NewChunker creates a chunker using the given token counter and budgets.
func NewChunker(counter TokenCounter, config ChunkerConfig) (*Chunker, error) {
	if config.ParentTokenBudget <= 0 || config.ChildTokenBudget <= 0 {
		return nil, ErrInvalidBudget
	}
	if config.ChildTokenBudget > config.ParentTokenBudget {
		return nil, ErrInvalidBudget
	}
	return &Chunker{config: config, counter: counter}, nil
}

// Chunk splits the document into parent and child chunks. Parents appear
// before their children in the result; order indexes preserve original
// document order within each level.
func (c *Chunker) Chunk(doc *core.Document) ([]*core.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, core.ErrEmptyText
	}

	sections := splitSections(doc.Text, doc.Headings)

	// Bound every section by the parent budget first, splitting oversized
	// sections at paragraph boundaries.
	var parentTexts []string
	for _, section := range sections {
		parentTexts = append(parentTexts, c.boundByBudget(section, c.config.ParentTokenBudget)...)
	}

	var parents []*core.Chunk
	var children []*core.Chunk
	for i, text := range parentTexts {
		parent := &core.Chunk{
			Id:             chunkID(doc.ID, 0, i, text),
			DocumentID:     doc.ID,
			OrganizationID: doc.OrganizationID,
			CourseID:       doc.CourseID,
			Kind:           core.ChunkKindParent,
			Text:           text,
			TokenCount:     c.counter.Count(text),
			OrderIndex:     i,
		}
		parents = append(parents, parent)

		for j, childText := range c.splitChildren(text) {
			children = append(children, &core.Chunk{
				Id:             chunkID(doc.ID, parent.Id, j, childText),
				ParentId:       parent.Id,
				DocumentID:     doc.ID,
				OrganizationID: doc.OrganizationID,
				CourseID:       doc.CourseID,
				Kind:           core.ChunkKindChild,
				Text:           childText,
				TokenCount:     c.counter.Count(childText),
				OrderIndex:     j,
			})
		}
	}

	return append(parents, children...), nil
}

// splitChildren splits a parent's text into child chunks. A parent within
// the child budget yields exactly one child equal to the parent text; a
// larger parent is split at sentence boundaries, with the last child
// allowed to be shorter.
func (c *Chunker) splitChildren(parentText string) []string {
	if c.counter.Count(parentText) <= c.config.ChildTokenBudget {
		return []string{parentText}
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	for _, sentence := range splitSentences(parentText) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		tokens := c.counter.Count(sentence)

		// A single sentence over the budget stays whole rather than being
		// truncated mid-sentence.
		if currentTokens+tokens > c.config.ChildTokenBudget && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// boundByBudget splits text into pieces not exceeding budget tokens,
// preferring paragraph boundaries and falling back to sentences.
func (c *Chunker) boundByBudget(text string, budget int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.counter.Count(text) <= budget {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		tokens := c.counter.Count(para)

		if currentTokens+tokens > budget {
			flush()
		}

		// An oversized paragraph gets split at sentence boundaries.
		if tokens > budget {
			var sentencePart strings.Builder
			sentenceTokens := 0
			for _, sentence := range splitSentences(para) {
				sentence = strings.TrimSpace(sentence)
				if sentence == "" {
					continue
				}
				st := c.counter.Count(sentence)
				if sentenceTokens+st > budget && sentencePart.Len() > 0 {
					pieces = append(pieces, strings.TrimSpace(sentencePart.String()))
					sentencePart.Reset()
					sentenceTokens = 0
				}
				if sentencePart.Len() > 0 {
					sentencePart.WriteString(" ")
				}
				sentencePart.WriteString(sentence)
				sentenceTokens += st
			}
			if sentencePart.Len() > 0 {
				pieces = append(pieces, strings.TrimSpace(sentencePart.String()))
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += tokens
	}
	flush()

	return pieces
}

// splitSections divides document text at top-level heading boundaries.
// When no headings are supplied the whole text is one section.
func splitSections(text string, headings []core.Heading) []string {
	if len(headings) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	topLevel := headings[0].Level
	for _, h := range headings {
		if h.Level < topLevel {
			topLevel = h.Level
		}
	}

	var offsets []int
	for _, h := range headings {
		if h.Level == topLevel && h.Offset >= 0 && h.Offset <= len(text) {
			offsets = append(offsets, h.Offset)
		}
	}
	if len(offsets) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	var sections []string
	// Preamble before the first heading is its own section
	if leading := strings.TrimSpace(text[:offsets[0]]); leading != "" {
		sections = append(sections, leading)
	}
	for i, start := range offsets {
		end := len(text)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if section := strings.TrimSpace(text[start:end]); section != "" {
			sections = append(sections, section)
		}
	}
	return sections
}

// splitSentences splits text at sentence-ending punctuation followed by
// whitespace, with a simple heuristic to skip abbreviations.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if i > 1 && r == '.' && unicode.IsUpper(runes[i-1]) {
					continue // likely abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// chunkID derives a stable content-hash ID so re-ingesting unchanged text
// reproduces the same chunk IDs.
func chunkID(documentID string, parentID core.ID, orderIndex int, text string) core.ID {
	return core.IDFromContent(fmt.Sprintf("%s\x00%d\x00%d\x00%s", documentID, parentID, orderIndex, text))
}
