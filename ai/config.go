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


package ai

import (
	"errors"
	"strings"
	"time"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "https://api.jina.ai/v1" or "http://localhost:11434/v1"
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "jina-embeddings-v2-base-en", "text-embedding-3-small"
	EmbeddingModel string

	// EmbeddingAPIKey authenticates against the embedding service.
	// When empty the provider runs the deterministic fallback vectorizer.
	EmbeddingAPIKey string

	// EmbeddingDimension is the vector size produced by EmbeddingModel.
	// The fallback vectorizer produces vectors of the same size.
	// Default: 768
	EmbeddingDimension int

	// ChatHost is the base URL for the chat completion service API.
	// Example: "https://api.groq.com/openai/v1"
	ChatHost string

	// ChatModel is the model identifier used for answer generation.
	// Example: "llama3-8b-8192", "gpt-4o-mini"
	ChatModel string

	// ChatAPIKey authenticates against the chat service.
	// When empty the provider runs the canned fallback generator.
	ChatAPIKey string

	// Temperature is the sampling temperature for generation.
	// Default: 0.7
	Temperature float64

	// MaxTokens bounds the length of a generated answer.
	// Default: 500
	MaxTokens int

	// ProbeTimeout bounds the startup reachability check of the embedding service.
	// Default: 5s
	ProbeTimeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithChatHost sets the chat service host URL.
func WithChatHost(host string) ConfigOption {
	return func(c *Config) {
		c.ChatHost = host
	}
}

// WithHost sets both embedding and chat hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.ChatHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithChatModel sets the chat model identifier.
func WithChatModel(model string) ConfigOption {
	return func(c *Config) {
		c.ChatModel = model
	}
}

// WithEmbeddingAPIKey sets the embedding service credential.
func WithEmbeddingAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingAPIKey = key
	}
}

// WithChatAPIKey sets the chat service credential.
func WithChatAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.ChatAPIKey = key
	}
}

// WithEmbeddingDimension sets the expected embedding vector size.
func WithEmbeddingDimension(dim int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingDimension = dim
	}
}

// WithTemperature sets the generation sampling temperature.
func WithTemperature(t float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = t
	}
}

// WithMaxTokens sets the generation length bound.
func WithMaxTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithProbeTimeout sets the startup probe timeout.
func WithProbeTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ProbeTimeout = d
	}
}

// DefaultConfig returns a Config pointing at Jina embeddings and Groq chat completions.
// Credentials are left empty, which selects the fallback implementations.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:      "https://api.jina.ai/v1",
		EmbeddingModel:     "jina-embeddings-v2-base-en",
		EmbeddingDimension: 768,
		ChatHost:           "https://api.groq.com/openai/v1",
		ChatModel:          "llama3-8b-8192",
		Temperature:        0.7,
		MaxTokens:          500,
		ProbeTimeout:       5 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//   cfg := NewConfig(
//       WithHost("http://localhost:11434/v1"),
//       WithEmbeddingModel("nomic-embed-text"),
//       WithEmbeddingDimension(768),
//   )
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// HasEmbeddingCredentials reports whether an embedding API key is configured.
func (c *Config) HasEmbeddingCredentials() bool {
	return strings.TrimSpace(c.EmbeddingAPIKey) != ""
}

// HasChatCredentials reports whether a chat API key is configured.
func (c *Config) HasChatCredentials() bool {
	return strings.TrimSpace(c.ChatAPIKey) != ""
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to hosts if missing, which is required
// by most OpenAI-compatible APIs (Groq's /openai/v1 included).
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.ChatHost = normalizeHost(c.ChatHost)
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

func normalizeHost(host string) string {
	if host == "" {
		return host
	}
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if !strings.HasSuffix(host, "/v1") {
		host += "/v1"
	}
	return host
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.ChatHost == "" {
		return errors.New("ai config: ChatHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.ChatModel == "" {
		return errors.New("ai config: ChatModel is required")
	}
	if c.EmbeddingDimension < 1 {
		return errors.New("ai config: EmbeddingDimension must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("ai config: Temperature must be between 0 and 2")
	}
	if c.MaxTokens < 1 {
		return errors.New("ai config: MaxTokens must be positive")
	}
	return nil
}
