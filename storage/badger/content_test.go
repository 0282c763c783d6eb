package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

var base = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func article(guid string, age time.Duration) *core.Article {
	return &core.Article{
		ID:          core.IDFromContent(guid),
		URL:         "https://news.example/" + guid,
		Title:       "Title " + guid,
		PublishedAt: base.Add(-age),
		RawText:     "body of " + guid,
		FetchedAt:   base,
	}
}

func chunkOf(a *core.Article, pos int) *core.Chunk {
	return &core.Chunk{
		ID:        core.ChunkID(a.ID, pos, "passage"),
		ArticleID: a.ID,
		Text:      "passage",
		Position:  pos,
		Embedding: []float32{1, 0, 0},
	}
}

func TestContentStore_ReplaceAllAndGet(t *testing.T) {
	store, _, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	a1, a2 := article("A1", time.Hour), article("A2", 0)
	c1, c2 := chunkOf(a1, 0), chunkOf(a2, 0)
	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{a1, a2}, []*core.Chunk{c1, c2}))

	got, err := store.GetArticle(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1, got)

	chunk, err := store.GetChunk(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, c2, chunk)

	list, err := store.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a2.ID, list[0].ID, "newest first")

	chunks, err := store.ListChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	articles, nChunks, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, articles)
	assert.Equal(t, 2, nChunks)
}

func TestContentStore_ReplaceAllSupersedes(t *testing.T) {
	store, _, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	old := article("OLD", time.Hour)
	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{old}, []*core.Chunk{chunkOf(old, 0), chunkOf(old, 1)}))

	fresh := article("NEW", 0)
	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{fresh}, []*core.Chunk{chunkOf(fresh, 0)}))

	_, err = store.GetArticle(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetChunk(ctx, chunkOf(old, 1).ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := store.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
}

func TestContentStore_StageKeepsPreviousSet(t *testing.T) {
	store, _, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	old := article("OLD", time.Hour)
	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{old}, []*core.Chunk{chunkOf(old, 0)}))

	fresh := article("NEW", 0)
	moved := article("OLD", 0)
	staged := []*core.Article{fresh, moved}
	stagedChunks := []*core.Chunk{chunkOf(fresh, 0)}
	require.NoError(t, store.Stage(ctx, staged, stagedChunks))

	_, err = store.GetChunk(ctx, chunkOf(old, 0).ID)
	assert.NoError(t, err, "superseded chunk still resolves while staged")
	_, err = store.GetChunk(ctx, chunkOf(fresh, 0).ID)
	assert.NoError(t, err)

	list, err := store.ListArticles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2, "restaged article keeps a single date key")

	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{fresh}, stagedChunks))
	_, err = store.GetChunk(ctx, chunkOf(old, 0).ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Stage(ctx, nil, []*core.Chunk{chunkOf(fresh, 1)})
	assert.ErrorIs(t, err, storage.ErrOrphanChunk)
}

func TestContentStore_OrphanChunkRejected(t *testing.T) {
	store, _, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	kept := article("KEEP", 0)
	require.NoError(t, store.ReplaceAll(ctx, []*core.Article{kept}, []*core.Chunk{chunkOf(kept, 0)}))

	stray := article("STRAY", 0)
	err = store.ReplaceAll(ctx, []*core.Article{kept}, []*core.Chunk{chunkOf(stray, 0)})
	assert.ErrorIs(t, err, storage.ErrOrphanChunk)

	// previous set is untouched
	_, err = store.GetArticle(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestContentStore_Closed(t *testing.T) {
	store, _, backend, err := NewMemoryStores()
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	err = store.ReplaceAll(context.Background(), nil, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestEmbeddingCache(t *testing.T) {
	_, cache, backend, err := NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, "h1", []float32{0.5, 0.25}))
	require.NoError(t, cache.Put(ctx, "h2", []float32{1}))

	v, ok, err := cache.Get(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.25}, v)

	n, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, cache.Clear(ctx))
	n, err = cache.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmbeddingCache_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	require.NoError(t, NewEmbeddingCache(backend).Put(ctx, "h", []float32{3}))
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	v, ok, err := NewEmbeddingCache(backend).Get(ctx, "h")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{3}, v)
}
