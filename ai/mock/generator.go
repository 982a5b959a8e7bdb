package mock

import (
	"context"
	"fmt"
)

// MockGenerator is a test double for ai.ContentGenerator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, returns a deterministic canned response.
	GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	callCount int
}

// NewMockGenerator creates a mock generator with default behavior.
// Returns the concrete type to allow test assertions.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate returns a deterministic response derived from the prompts.
func (m *MockGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.callCount++

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, systemPrompt, userPrompt)
	}
	return fmt.Sprintf("generated content for: %s", userPrompt), nil
}

// CallCount returns the number of times Generate was called.
func (m *MockGenerator) CallCount() int {
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockGenerator) Reset() {
	m.callCount = 0
	m.GenerateFunc = nil
}
