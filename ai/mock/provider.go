package mock

import "github.com/pedagogic/courseforge/ai"

// MockProvider is a test double for ai.Provider aggregating the mock
// embedder and generator.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
}

// NewMockProvider creates a provider backed by default mocks.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		generator: NewMockGenerator(),
	}
}

// Embedder returns the mock embedding service.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the mock content generation service.
func (p *MockProvider) Generator() ai.ContentGenerator {
	return p.generator
}

// GetMockEmbedder returns the concrete mock for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the concrete mock for test assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}

// Close implements ai.Provider.
func (p *MockProvider) Close() error {
	return nil
}
