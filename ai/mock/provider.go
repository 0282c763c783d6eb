// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mock

import (
	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/fallback"
)

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder and generator instances.
type MockProvider struct {
	embedder  *MockEmbedder
	fallback  *fallback.Embedder
	generator *MockGenerator
	status    ai.Status
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use NewMockProviderWithServices to keep handles on the concrete doubles.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(NewMockEmbedder(384), NewMockGenerator("ok"), ai.Status{})
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator, status ai.Status) *MockProvider {
	return &MockProvider{
		embedder:  embedder,
		fallback:  fallback.NewEmbedder(embedder.dim),
		generator: generator,
		status:    status,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// FallbackEmbedder returns a real fallback vectorizer of the mock's dimension.
func (p *MockProvider) FallbackEmbedder() ai.Embedder {
	return p.fallback
}

// Generator returns the mock generator.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// Status returns the configured status.
func (p *MockProvider) Status() ai.Status {
	return p.status
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}
