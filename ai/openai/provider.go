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


package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/fallback"
)

// Provider implements ai.AIProvider using OpenAI-compatible services,
// substituting fallbacks for services that cannot be used.
type Provider struct {
	config    *ai.Config
	embedder  ai.Embedder
	fallback  *fallback.Embedder
	generator ai.Generator
	status    ai.Status
	logger    *slog.Logger
}

// NewProvider creates a new AI provider.
// The config is validated and normalized before use.
//
// Selection happens once, here:
//   - no embedding key, or a failed embedding probe, selects the hash vectorizer
//   - a probe that failed for any reason but rejected credentials keeps the
//     remote embedder as Embedder so a later probe can switch back to it
//   - no chat key selects the canned generator
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction.
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "openai-provider")

	p := &Provider{
		config:   config,
		fallback: fallback.NewEmbedder(config.EmbeddingDimension),
		logger:   logger,
	}

	if config.HasEmbeddingCredentials() {
		embedder, err := newEmbedder(config)
		if err != nil {
			return nil, err
		}
		p.embedder = embedder
		if err := probe(ctx, embedder, config); err != nil {
			logger.Warn("embedding provider failed startup probe, using fallback vectorizer",
				"host", config.EmbeddingHost, "err", err)
			p.status.EmbeddingDegraded = true
			if errors.Is(err, ai.ErrUnauthorized) {
				p.embedder = p.fallback
			}
		}
	} else {
		logger.Warn("no embedding api key configured, using fallback vectorizer")
		p.embedder = p.fallback
		p.status.EmbeddingDegraded = true
	}

	if config.HasChatCredentials() {
		generator, err := newGenerator(config)
		if err != nil {
			return nil, err
		}
		p.generator = generator
	} else {
		logger.Warn("no chat api key configured, using canned responses")
		p.generator = fallback.NewGenerator()
		p.status.GenerationDegraded = true
	}

	return p, nil
}

func probe(ctx context.Context, embedder *Embedder, config *ai.Config) error {
	ctx, cancel := context.WithTimeout(ctx, config.ProbeTimeout)
	defer cancel()
	_, err := embedder.EmbedText(ctx, "probe")
	return err
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// FallbackEmbedder returns the deterministic vectorizer.
func (p *Provider) FallbackEmbedder() ai.Embedder {
	return p.fallback
}

// Generator returns the answer generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Status reports which services started degraded.
func (p *Provider) Status() ai.Status {
	return p.status
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
