package ai

import (
	"context"

	"github.com/poiesic/newsrag/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error wrapping ErrUnauthorized when credentials are rejected
	// and ErrUnavailable for transient failures.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator streams an answer for an assembled conversation.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate starts generation and returns the token stream.
	// The stream is canceled when ctx is done or when the caller closes it.
	Generate(ctx context.Context, messages []ChatMessage) (*Stream, error)
}

// ChatMessage is one message of a generation request.
type ChatMessage struct {
	Role    core.Role
	Content string
}

// Status reports which services of a provider run on fallback implementations.
type Status struct {
	EmbeddingDegraded  bool
	GenerationDegraded bool
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// The provider decides at construction whether each service is backed by the
// real remote API or by its fallback.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// FallbackEmbedder returns the deterministic embedder used in degraded mode.
	// It produces vectors of the same dimension as Embedder.
	FallbackEmbedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Status reports which services started degraded.
	Status() Status

	// Close releases resources held by the provider and its services.
	Close() error
}
