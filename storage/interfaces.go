package storage

import (
	"context"

	"github.com/poiesic/newsrag/core"
)

// HistoryStore persists the message history of sessions.
// Implementations must be thread-safe and support concurrent access.
type HistoryStore interface {
	// Append adds a message to the end of the session's history.
	Append(ctx context.Context, sessionID string, msg core.Message) error

	// List returns the session's messages in conversational order.
	// An unknown session yields an empty, non-nil slice.
	List(ctx context.Context, sessionID string) ([]core.Message, error)

	// Clear removes every message of the session.
	Clear(ctx context.Context, sessionID string) error

	// Close releases resources held by the store.
	Close() error
}

// RemoteHistoryStore is a HistoryStore backed by an external service whose
// reachability can be checked.
type RemoteHistoryStore interface {
	HistoryStore

	// Ping checks that the backing service is reachable.
	Ping(ctx context.Context) error
}

// ContentStore holds ingested articles and their chunks.
// Implementations must be thread-safe and support concurrent access.
type ContentStore interface {
	// Stage writes articles and chunks next to the stored set without
	// deleting anything, so readers resolving either set keep finding it.
	// A later ReplaceAll with the same set drops what was superseded.
	// Returns ErrOrphanChunk if a chunk references an article outside the set.
	Stage(ctx context.Context, articles []*core.Article, chunks []*core.Chunk) error

	// ReplaceAll atomically supersedes the stored article set.
	// Articles and chunks not present in the new set are deleted.
	// Returns ErrOrphanChunk if a chunk references an article outside the set.
	ReplaceAll(ctx context.Context, articles []*core.Article, chunks []*core.Chunk) error

	// GetArticle retrieves a single article by ID.
	// Returns ErrNotFound if the article doesn't exist.
	GetArticle(ctx context.Context, id core.ID) (*core.Article, error)

	// GetChunk retrieves a single chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error)

	// ListArticles returns every stored article, newest first.
	ListArticles(ctx context.Context) ([]*core.Article, error)

	// ListChunks returns every stored chunk with its embedding.
	// Used to rebuild a vector index at startup.
	ListChunks(ctx context.Context) ([]*core.Chunk, error)

	// Counts returns the number of stored articles and chunks.
	Counts(ctx context.Context) (articles int, chunks int, err error)

	// Close releases resources held by the store.
	Close() error
}

// EmbeddingCache maps content hashes to embedding vectors.
// Implementations must be thread-safe and support concurrent access.
type EmbeddingCache interface {
	// Get returns the cached vector for hash and whether it was present.
	Get(ctx context.Context, hash string) ([]float32, bool, error)

	// Put stores a vector under hash, replacing any previous value.
	Put(ctx context.Context, hash string, vector []float32) error

	// Clear evicts every entry.
	Clear(ctx context.Context) error

	// Len returns the number of cached entries.
	Len(ctx context.Context) (int, error)
}
