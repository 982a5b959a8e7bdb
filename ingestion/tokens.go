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
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text length in model tokens. Chunk budgets are
// expressed in tokens, so the counter choice determines chunk boundaries
// and must stay fixed per deployment for reproducible chunking.
type TokenCounter interface {
	// Count returns the number of tokens in text.
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding, matching
// what OpenAI-family embedding models see.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the named encoding, e.g.
// "cl100k_base".
func NewTiktokenCounter(encodingName string) (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

// Count returns the BPE token count of text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// WordCounter approximates tokens as whitespace-separated words. It is
// deterministic and dependency-free, which makes chunking tests exact.
type WordCounter struct{}

// Count returns the number of whitespace-separated words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}
