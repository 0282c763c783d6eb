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


package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/index"
	"github.com/poiesic/newsrag/storage"
)

const (
	DefaultTopK      = 5
	DefaultOverFetch = 2
)

// Embedder embeds a single query. *embedding.Client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Passage is a retrieved chunk with its citation.
type Passage struct {
	ChunkID     core.ID        `json:"chunk_id"`
	Source      core.SourceRef `json:"source"`
	Text        string         `json:"text"`
	Score       float32        `json:"score"`
	PublishedAt time.Time      `json:"published_at"`
	Position    int            `json:"position"`
}

// ComparePassages orders passages the way the index ranks their hits.
func ComparePassages(a, b Passage) int {
	return index.CompareHits(a.hit(), b.hit())
}

func (p Passage) hit() index.Hit {
	return index.Hit{
		ChunkID:     p.ChunkID,
		ArticleID:   p.Source.ArticleID,
		PublishedAt: p.PublishedAt,
		Position:    p.Position,
		Score:       p.Score,
	}
}

// Retriever finds passages for a question.
type Retriever struct {
	embedder  Embedder
	index     index.Index
	content   storage.ContentStore
	overFetch int
	logger    *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithOverFetch sets how many times k hits are requested from the index
// before deduplication by article.
func WithOverFetch(factor int) Option {
	return func(r *Retriever) error {
		if factor < 1 {
			return fmt.Errorf("over-fetch factor must be at least 1, got %d", factor)
		}
		r.overFetch = factor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "retrieval")
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(embedder Embedder, idx index.Index, content storage.ContentStore, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if content == nil {
		return nil, ErrContentStoreRequired
	}
	r := &Retriever{
		embedder:  embedder,
		index:     idx,
		content:   content,
		overFetch: DefaultOverFetch,
		logger:    slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Retrieve returns up to k passages for query, at most one per article,
// ordered by descending score.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	return r.RetrieveWithMonitor(ctx, query, k, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, k int, monitor Monitor) ([]Passage, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(query)

	if k <= 0 {
		monitor.Finish(nil)
		return []Passage{}, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	monitor.AfterEmbed(vector)

	hits, err := r.index.Query(ctx, vector, k*r.overFetch)
	if err != nil {
		r.logger.Error("error querying index", "err", err)
		return nil, err
	}
	monitor.AfterQuery(hits)

	// Hits arrive best first, so the first passage seen per article is its best.
	passages := make([]Passage, 0, k)
	seen := make(map[core.ID]bool, len(hits))
	articles := make(map[core.ID]*core.Article)
	for _, hit := range hits {
		if len(passages) == k {
			break
		}
		if seen[hit.ArticleID] {
			monitor.Duplicate(hit)
			continue
		}

		chunk, err := r.content.GetChunk(ctx, hit.ChunkID)
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Debug("index hit without stored chunk", "chunk", hit.ChunkID)
			continue
		}
		if err != nil {
			return nil, err
		}
		article, ok := articles[chunk.ArticleID]
		if !ok {
			article, err = r.content.GetArticle(ctx, chunk.ArticleID)
			if errors.Is(err, storage.ErrNotFound) {
				r.logger.Debug("chunk without stored article", "chunk", hit.ChunkID, "article", chunk.ArticleID)
				continue
			}
			if err != nil {
				return nil, err
			}
			articles[chunk.ArticleID] = article
		}

		seen[hit.ArticleID] = true
		passages = append(passages, Passage{
			ChunkID:     chunk.ID,
			Source:      article.Source(),
			Text:        chunk.Text,
			Score:       hit.Score,
			PublishedAt: hit.PublishedAt,
			Position:    chunk.Position,
		})
	}

	monitor.Finish(passages)
	return passages, nil
}
