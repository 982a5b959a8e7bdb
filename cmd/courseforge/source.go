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
	"os"
	"path/filepath"
	"strings"

	"github.com/pedagogic/courseforge/core"
)

// fileSource serves converted markdown documents from a directory. The
// document id maps to "<dir>/<id>.md"; headings are read from markdown
// "#" lines.
type fileSource struct {
	dir string
}

func newFileSource(dir string) (*fileSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("docs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docs directory %s is not a directory", dir)
	}
	return &fileSource{dir: dir}, nil
}

func (s *fileSource) GetDocument(ctx context.Context, organizationID, courseID, documentID string) (*core.Document, error) {
	// The id is a bare name, never a path.
	if documentID != filepath.Base(documentID) || documentID == "" {
		return nil, fmt.Errorf("invalid document id %q", documentID)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, documentID+".md"))
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, err)
	}

	text := string(data)
	return &core.Document{
		ID:             documentID,
		OrganizationID: organizationID,
		CourseID:       courseID,
		Text:           text,
		Headings:       parseHeadings(text),
	}, nil
}

// parseHeadings extracts markdown ATX headings with their byte offsets.
func parseHeadings(text string) []core.Heading {
	var headings []core.Heading
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSuffix(line, "\n")
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level > 0 && level <= 6 && level < len(trimmed) && trimmed[level] == ' ' {
			headings = append(headings, core.Heading{
				Level:  level,
				Title:  strings.TrimSpace(trimmed[level:]),
				Offset: offset,
			})
		}
		offset += len(line)
	}
	return headings
}
