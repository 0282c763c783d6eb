package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/fallback"
	"github.com/poiesic/newsrag/ai/mock"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/embedding"
	"github.com/poiesic/newsrag/feed"
	"github.com/poiesic/newsrag/index"
	"github.com/poiesic/newsrag/storage/badger"
	"github.com/poiesic/newsrag/storage/memory"
)

const testDim = 16

var published = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func item(guid, text string) core.FeedItem {
	return core.FeedItem{
		GUID:        guid,
		URL:         "https://news.example/" + strings.ToLower(guid),
		Title:       "Story " + guid,
		PublishedAt: published,
		RawText:     text,
	}
}

type fixture struct {
	pipeline *Pipeline
	content  *badger.ContentStore
	index    *index.Memory
	embedder *mock.MockEmbedder
	source   *feed.Static
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	content, _, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	embedder := mock.NewMockEmbedder(testDim)
	client, err := embedding.NewClient(embedder, fallback.NewEmbedder(testDim), memory.NewCache(),
		embedding.WithRetry(1, time.Millisecond))
	require.NoError(t, err)

	src := &feed.Static{}
	idx := index.NewMemory()
	opts = append([]Option{WithChunking(50, 10), WithPoolSize(2)}, opts...)
	p, err := NewPipeline(src, content, idx, client, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &fixture{pipeline: p, content: content, index: idx, embedder: embedder, source: src}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	content, _, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer backend.Close()
	client, err := embedding.NewClient(nil, fallback.NewEmbedder(4), memory.NewCache())
	require.NoError(t, err)
	src, idx := &feed.Static{}, index.NewMemory()

	_, err = NewPipeline(nil, content, idx, client)
	assert.ErrorIs(t, err, ErrSourceRequired)
	_, err = NewPipeline(src, nil, idx, client)
	assert.ErrorIs(t, err, ErrContentStoreRequired)
	_, err = NewPipeline(src, content, nil, client)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewPipeline(src, content, idx, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewPipeline(src, content, idx, client, WithChunking(10, 10))
	assert.ErrorIs(t, err, ErrInvalidChunkParams)
}

func TestRefresh_IndexesArticles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.Items = []core.FeedItem{
		item("A1", "Markets rallied Monday on tech earnings."),
		item("A2", strings.Repeat("Rain is expected across the north this week. ", 4)),
		item("A1", "duplicate guid is ignored"),
		{GUID: "bad", Title: "no url", RawText: "text"},
	}

	report, err := f.pipeline.Refresh(ctx, 10)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.Articles)
	assert.Zero(t, report.FailedChunks)

	articles, chunks, err := f.content.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, articles)
	assert.Equal(t, report.Chunks, chunks)

	n, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
	assert.Greater(t, report.Chunks, 2, "long article split into several chunks")

	stored, err := f.content.GetChunk(ctx, core.ChunkID(core.IDFromContent("A1"), 0, "Markets rallied Monday on tech earnings."))
	require.NoError(t, err)
	assert.Equal(t, "Markets rallied Monday on tech earnings.", stored.Text)
	assert.Len(t, stored.Embedding, testDim)

	assert.Equal(t, &report, f.pipeline.LastReport())
}

func TestRefresh_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.Items = []core.FeedItem{
		item("A1", strings.Repeat("Markets rallied Monday on tech earnings. ", 5)),
		item("A2", "Rain is expected."),
	}

	first, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	calls := f.embedder.CallCount()

	second, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Articles, second.Articles)
	assert.Equal(t, calls, f.embedder.CallCount(), "unchanged text is served from the cache")
}

func TestRefresh_SupersedesPreviousSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.source.Items = []core.FeedItem{item("OLD", "Yesterday's news.")}
	_, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	f.source.Items = []core.FeedItem{item("NEW", "Today's news.")}
	_, err = f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	list, err := f.content.ListArticles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.IDFromContent("NEW"), list[0].ID)
	n, _ := f.index.Count(ctx)
	assert.Equal(t, 1, n)
}

type gatedIndex struct {
	*index.Memory
	entered chan struct{}
	release chan struct{}
	err     error
}

func (g *gatedIndex) Replace(ctx context.Context, entries []index.Entry) error {
	if g.entered != nil {
		close(g.entered)
		<-g.release
	}
	if g.err != nil {
		return g.err
	}
	return g.Memory.Replace(ctx, entries)
}

func newGatedFixture(t *testing.T) (*fixture, *gatedIndex) {
	t.Helper()
	f := newFixture(t)
	gated := &gatedIndex{Memory: f.index}
	p, err := NewPipeline(f.source, f.content, gated, f.pipeline.embedder, WithChunking(50, 10))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	f.pipeline = p
	return f, gated
}

// resolveAll queries the index and returns the stored text of every hit.
func resolveAll(t *testing.T, f *fixture) []string {
	t.Helper()
	ctx := context.Background()
	hits, err := f.index.Query(ctx, mock.DeterministicVector("markets", testDim), 10)
	require.NoError(t, err)
	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		chunk, err := f.content.GetChunk(ctx, hit.ChunkID)
		require.NoError(t, err, "every index hit resolves to stored content")
		texts = append(texts, chunk.Text)
	}
	return texts
}

func TestRefresh_QueriesDuringIndexSwapSeeOldSet(t *testing.T) {
	f, gated := newGatedFixture(t)
	ctx := context.Background()

	f.source.Items = []core.FeedItem{item("A", "Old markets story.")}
	_, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Old markets story."}, resolveAll(t, f))

	gated.entered = make(chan struct{})
	gated.release = make(chan struct{})
	f.source.Items = []core.FeedItem{item("A", "Rewritten markets story."), item("B", "New markets story.")}
	done := make(chan error)
	go func() {
		_, err := f.pipeline.Refresh(ctx, 0)
		done <- err
	}()

	<-gated.entered
	assert.Equal(t, []string{"Old markets story."}, resolveAll(t, f))
	close(gated.release)
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"Rewritten markets story.", "New markets story."}, resolveAll(t, f))
	_, chunks, err := f.content.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, chunks, "superseded chunks pruned after the swap")
}

func TestRefresh_IndexFailureDropsStagedContent(t *testing.T) {
	f, gated := newGatedFixture(t)
	ctx := context.Background()

	f.source.Items = []core.FeedItem{item("A", "Old markets story.")}
	_, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	gated.err = errors.New("collection build failed")
	f.source.Items = []core.FeedItem{item("B", "New markets story.")}
	_, err = f.pipeline.Refresh(ctx, 0)
	assert.ErrorContains(t, err, "collection build failed")

	articles, chunks, err := f.content.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, articles)
	assert.Equal(t, 1, chunks)
	assert.Equal(t, []string{"Old markets story."}, resolveAll(t, f))
}

func TestRefresh_FetchFailureKeepsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.Items = []core.FeedItem{item("A1", "Markets rallied Monday on tech earnings.")}
	_, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	f.source.Err = errors.New("feed down")
	report, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Contains(t, report.Reason, "feed down")

	f.source.Err = nil
	f.source.Items = nil
	report, err = f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	n, _ := f.index.Count(ctx)
	assert.Equal(t, 1, n, "previous index kept")
}

func TestRefresh_DropsUnembeddableChunks(t *testing.T) {
	f := newFixture(t, WithChunking(1000, 100))
	ctx := context.Background()
	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: batch failed", ai.ErrUnavailable)
	}
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if strings.Contains(text, "poison") {
			return nil, fmt.Errorf("%w: rejected", ai.ErrEmptyResponse)
		}
		return mock.DeterministicVector(text, testDim), nil
	}
	f.source.Items = []core.FeedItem{
		item("A1", "Markets rallied Monday on tech earnings."),
		item("A2", "poison article"),
	}

	report, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Articles)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 1, report.FailedChunks)

	_, err = f.content.GetArticle(ctx, core.IDFromContent("A2"))
	assert.Error(t, err, "article without chunks is dropped")
}

func TestRefresh_AllChunksFailKeepsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.Items = []core.FeedItem{item("A1", "Markets rallied.")}
	_, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	fail := func(context.Context, string) ([]float32, error) { return nil, ai.ErrEmptyResponse }
	f.embedder.EmbedTextFunc = fail
	f.embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) { return nil, ai.ErrEmptyResponse }
	f.source.Items = []core.FeedItem{item("B1", "Different text entirely.")}

	report, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, report.FailedChunks)

	_, err = f.content.GetArticle(ctx, core.IDFromContent("A1"))
	assert.NoError(t, err)
}

func TestRefresh_SingleFlight(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		once.Do(func() { close(started) })
		<-release
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.DeterministicVector(text, testDim)
		}
		return out, nil
	}
	f.source.Items = []core.FeedItem{item("A1", "Markets rallied.")}

	done := make(chan error)
	go func() {
		_, err := f.pipeline.Refresh(context.Background(), 0)
		done <- err
	}()
	<-started
	assert.True(t, f.pipeline.Running())

	_, err := f.pipeline.Refresh(context.Background(), 0)
	assert.ErrorIs(t, err, ErrRefreshInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.pipeline.Running())
}

func TestRefresh_Progress(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, WithProgress(&buf), WithBatchSize(1))
	f.source.Items = []core.FeedItem{item("A1", strings.Repeat("word ", 40))}

	_, err := f.pipeline.Refresh(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Embedding:")
	assert.Contains(t, buf.String(), "(100.0%)")
}

func TestLoadIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.Items = []core.FeedItem{item("A1", "Markets rallied Monday on tech earnings.")}
	report, err := f.pipeline.Refresh(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, f.index.Clear(ctx))
	n, err := f.pipeline.LoadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
	count, _ := f.index.Count(ctx)
	assert.Equal(t, n, count)
}
