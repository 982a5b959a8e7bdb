package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/pedagogic/courseforge/ai"
)

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error)

	// Model is the reported model version. Defaults to "mock-embedder-v1".
	Model string

	// Dim is the vector dimension. Defaults to 8.
	Dim int

	callCount int
}

// NewMockEmbedder creates a mock embedder with default deterministic
// behavior: the same text always produces the same unit vector.
// Returns the concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Model: "mock-embedder-v1", Dim: 8}
}

// EmbedTexts generates deterministic embeddings for the given texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string, task ai.EmbedTask) ([][]float32, error) {
	m.callCount++

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts, task)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = generateDeterministicVector(text, m.Dim)
	}
	return vectors, nil
}

// ModelVersion returns the configured model version.
func (m *MockEmbedder) ModelVersion() string {
	return m.Model
}

// Dimension returns the configured vector dimension.
func (m *MockEmbedder) Dimension() int {
	return m.Dim
}

// CallCount returns the number of times EmbedTexts was called.
func (m *MockEmbedder) CallCount() int {
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockEmbedder) Reset() {
	m.callCount = 0
	m.EmbedTextsFunc = nil
}

// generateDeterministicVector creates a deterministic unit vector from
// text using an FNV hash seed.
func generateDeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares > 0 {
		norm := float32(1.0 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
