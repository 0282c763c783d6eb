package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/index"
)

// fakeQdrant implements the subset of the Qdrant REST API the client uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[uint64]point
	aliases     map[string]string
	searches    int
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	f := &fakeQdrant{collections: map[string]map[uint64]point{}, aliases: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		f.reply(w, map[string]any{"collections": []any{}})
	})
	mux.HandleFunc("GET /aliases", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var list []aliasDescription
		for a, c := range f.aliases {
			list = append(list, aliasDescription{AliasName: a, CollectionName: c})
		}
		f.reply(w, map[string]any{"aliases": list})
	})
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.collections[r.PathValue("name")] = map[uint64]point{}
		f.reply(w, true)
	})
	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.collections, r.PathValue("name"))
		f.reply(w, true)
	})
	mux.HandleFunc("POST /collections/aliases", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Actions []struct {
				Delete *aliasDescription `json:"delete_alias"`
				Create *aliasDescription `json:"create_alias"`
			} `json:"actions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, a := range req.Actions {
			if a.Delete != nil {
				delete(f.aliases, a.Delete.AliasName)
			}
			if a.Create != nil {
				f.aliases[a.Create.AliasName] = a.Create.CollectionName
			}
		}
		f.reply(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []point `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		coll, ok := f.resolve(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		for _, p := range req.Points {
			coll[p.ID] = p
		}
		f.reply(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.searches++
		coll, ok := f.resolve(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		var out []scoredPoint
		for _, p := range coll {
			out = append(out, scoredPoint{ID: p.ID, Score: index.Cosine(req.Vector, p.Vector), Payload: p.Payload})
		}
		sort.Slice(out, func(a, b int) bool { return out[a].Score > out[b].Score })
		if len(out) > req.Limit {
			out = out[:req.Limit]
		}
		f.reply(w, out)
	})
	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		coll, ok := f.resolve(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.reply(w, map[string]any{"count": len(coll)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

// resolve must be called with mu held.
func (f *fakeQdrant) resolve(name string) (map[uint64]point, bool) {
	if target, ok := f.aliases[name]; ok {
		name = target
	}
	coll, ok := f.collections[name]
	return coll, ok
}

func (f *fakeQdrant) reply(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

var published = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func entries(ids ...core.ID) []index.Entry {
	out := make([]index.Entry, len(ids))
	for i, id := range ids {
		v := make([]float32, 3)
		v[i%3] = 1
		out[i] = index.Entry{ChunkID: id, ArticleID: id + 1000, PublishedAt: published, Position: i, Vector: v}
	}
	return out
}

func newTestIndex(t *testing.T, url string) *Index {
	idx, err := New(Config{URL: url, Dimension: 3})
	require.NoError(t, err)
	return idx
}

func TestIndex_EmptyBeforeFirstWrite(t *testing.T) {
	_, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, idx.Ping(ctx))
	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndex_ReplaceSwapsGenerations(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, idx.Replace(ctx, entries(1, 2, 3)))
	first := fake.aliases[DefaultAlias]
	require.NotEmpty(t, first)
	assert.True(t, strings.HasPrefix(first, DefaultAlias+"_"))

	hits, err := idx.Query(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.ID(2), hits[0].ChunkID)
	assert.Equal(t, core.ID(1002), hits[0].ArticleID)
	assert.Equal(t, published, hits[0].PublishedAt)
	assert.Equal(t, 1, hits[0].Position)

	require.NoError(t, idx.Replace(ctx, entries(10)))
	second := fake.aliases[DefaultAlias]
	assert.NotEqual(t, first, second)
	_, stillThere := fake.collections[first]
	assert.False(t, stillThere, "old generation dropped")

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndex_UpsertCreatesAlias(t *testing.T) {
	fake, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, entries(1, 2)...))
	assert.Contains(t, fake.aliases, DefaultAlias)
	require.NoError(t, idx.Upsert(ctx, entries(3)...))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndex_LargeIDsSurvive(t *testing.T) {
	_, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	ctx := context.Background()

	big := core.IDFromContent("A1")
	require.NoError(t, idx.Replace(ctx, entries(big)))
	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, big, hits[0].ChunkID)
}

func TestIndex_Validation(t *testing.T) {
	_, err := New(Config{Dimension: 3})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x", Dimension: 0})
	assert.Error(t, err)

	_, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	ctx := context.Background()

	_, err = idx.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	err = idx.Replace(ctx, []index.Entry{{ChunkID: 1, Vector: []float32{1}}})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestIndex_Unreachable(t *testing.T) {
	idx := newTestIndex(t, "http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := idx.Ping(ctx)
	assert.ErrorIs(t, err, index.ErrUnavailable)
}

func TestIndex_BehindFailover(t *testing.T) {
	_, srv := newFakeQdrant(t)
	idx := newTestIndex(t, srv.URL)
	f := index.NewFailover(idx, nil)
	ctx := context.Background()

	require.NoError(t, f.Replace(ctx, entries(1, 2)))
	srv.Close()

	hits, err := f.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.ID(1), hits[0].ChunkID)
	assert.True(t, f.Degraded())
}
