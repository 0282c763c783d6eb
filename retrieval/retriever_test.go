package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/index"
	"github.com/poiesic/newsrag/storage"
	"github.com/poiesic/newsrag/storage/badger"
)

// vectorEmbedder returns fixed vectors per query.
type vectorEmbedder map[string][]float32

func (v vectorEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := v[text]
	if !ok {
		return nil, errors.New("unknown query")
	}
	return vec, nil
}

type recordingMonitor struct {
	noopMonitor
	started    string
	hits       int
	duplicates int
	finished   []Passage
}

func (m *recordingMonitor) Start(q string)              { m.started = q }
func (m *recordingMonitor) AfterQuery(hits []index.Hit) { m.hits = len(hits) }
func (m *recordingMonitor) Duplicate(index.Hit)         { m.duplicates++ }
func (m *recordingMonitor) Finish(p []Passage)          { m.finished = p }

var published = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type corpus struct {
	content *badger.ContentStore
	index   *index.Memory
}

// seed stores one article per guid with chunks carrying the given vectors.
func seed(t *testing.T, docs map[string][][]float32) corpus {
	t.Helper()
	ctx := context.Background()
	content, _, backend, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	var articles []*core.Article
	var chunks []*core.Chunk
	var entries []index.Entry
	for guid, vectors := range docs {
		a := core.NewArticle(core.FeedItem{GUID: guid, URL: "https://news.example/" + guid, Title: "Title " + guid, PublishedAt: published, RawText: "text"}, published)
		articles = append(articles, a)
		for pos, v := range vectors {
			c := &core.Chunk{ID: core.ChunkID(a.ID, pos, guid+" passage"), ArticleID: a.ID, Text: guid + " passage", Position: pos, Embedding: v}
			chunks = append(chunks, c)
			entries = append(entries, index.EntryFromChunk(a, c))
		}
	}
	require.NoError(t, content.ReplaceAll(ctx, articles, chunks))
	idx := index.NewMemory()
	require.NoError(t, idx.Replace(ctx, entries))
	return corpus{content: content, index: idx}
}

func TestNewRetriever_RequiresDependencies(t *testing.T) {
	c := seed(t, nil)
	e := vectorEmbedder{}
	_, err := NewRetriever(nil, c.index, c.content)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = NewRetriever(e, nil, c.content)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewRetriever(e, c.index, nil)
	assert.ErrorIs(t, err, ErrContentStoreRequired)
	_, err = NewRetriever(e, c.index, c.content, WithOverFetch(0))
	assert.Error(t, err)
}

func TestRetrieve_OneHot(t *testing.T) {
	c := seed(t, map[string][][]float32{
		"A": {{1, 0, 0}},
		"B": {{0, 1, 0}},
		"C": {{0, 0, 1}},
	})
	r, err := NewRetriever(vectorEmbedder{"q": {0, 1, 0}}, c.index, c.content)
	require.NoError(t, err)

	passages, err := r.Retrieve(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "https://news.example/B", passages[0].Source.URL)
	assert.Equal(t, "B passage", passages[0].Text)
	assert.InDelta(t, 1.0, passages[0].Score, 1e-6)
	assert.True(t, published.Equal(passages[0].PublishedAt))
	assert.Equal(t, 0, passages[0].Position)
}

func TestRetrieve_DedupesByArticle(t *testing.T) {
	c := seed(t, map[string][][]float32{
		"A": {{1, 0}, {0.9, 0.1}, {0.8, 0.2}},
		"B": {{0.5, 0.5}},
	})
	r, err := NewRetriever(vectorEmbedder{"q": {1, 0}}, c.index, c.content, WithOverFetch(2))
	require.NoError(t, err)
	mon := &recordingMonitor{}

	passages, err := r.RetrieveWithMonitor(context.Background(), "q", 2, mon)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, core.IDFromContent("A"), passages[0].Source.ArticleID)
	assert.Equal(t, core.ChunkID(core.IDFromContent("A"), 0, "A passage"), passages[0].ChunkID, "best passage per article")
	assert.Equal(t, core.IDFromContent("B"), passages[1].Source.ArticleID)
	assert.Greater(t, passages[0].Score, passages[1].Score)

	assert.Equal(t, "q", mon.started)
	assert.Equal(t, 4, mon.hits)
	assert.Equal(t, 2, mon.duplicates)
	assert.Equal(t, passages, mon.finished)
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	c := seed(t, nil)
	r, err := NewRetriever(vectorEmbedder{"q": {1, 0}}, c.index, c.content)
	require.NoError(t, err)

	passages, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)

	passages, err = r.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.NotNil(t, passages)
}

func TestRetrieve_SkipsHitsWithoutContent(t *testing.T) {
	c := seed(t, map[string][][]float32{"A": {{1, 0}}})
	// entry whose chunk was never stored
	require.NoError(t, c.index.Upsert(context.Background(), index.Entry{ChunkID: 42, ArticleID: 7, PublishedAt: published, Vector: []float32{1, 0}}))

	r, err := NewRetriever(vectorEmbedder{"q": {1, 0}}, c.index, c.content)
	require.NoError(t, err)
	passages, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, core.IDFromContent("A"), passages[0].Source.ArticleID)
}

func TestRetrieve_EmbedError(t *testing.T) {
	c := seed(t, nil)
	r, err := NewRetriever(vectorEmbedder{}, c.index, c.content)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "unknown", 3)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}
