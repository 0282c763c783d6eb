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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/embedding"
	"github.com/poiesic/newsrag/feed"
	"github.com/poiesic/newsrag/index"
	"github.com/poiesic/newsrag/metrics"
	"github.com/poiesic/newsrag/storage"
)

const (
	DefaultInitialLimit = 50
	DefaultRefreshLimit = 20
	defaultBatchSize    = 10
)

// Embedder embeds batches of texts, reporting per-item failures.
// *embedding.Client implements it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (embedding.BatchResult, error)
}

// Report summarizes a refresh.
type Report struct {
	Articles     int           `json:"articles"`
	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks"`
	Duration     time.Duration `json:"duration"`
	Skipped      bool          `json:"skipped"`
	Reason       string        `json:"reason,omitempty"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Pipeline orchestrates refreshes of the article set.
type Pipeline struct {
	source    feed.Source
	content   storage.ContentStore
	index     index.Index
	embedder  Embedder
	pool      *ants.Pool
	chunkSize int
	overlap   int
	batchSize int
	progress  io.Writer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	running sync.Mutex
	last    atomic.Pointer[Report]
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithChunking sets the chunk size and overlap, in runes.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if _, err := Chunk("x", size, overlap); err != nil {
			return err
		}
		p.chunkSize = size
		p.overlap = overlap
		return nil
	}
}

// WithBatchSize sets the number of chunks handed to one pool task.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		p.batchSize = n
		return nil
	}
}

// WithProgress reports embedding progress to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	source feed.Source,
	content storage.ContentStore,
	idx index.Index,
	embedder Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if content == nil {
		return nil, ErrContentStoreRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		source:    source,
		content:   content,
		index:     idx,
		embedder:  embedder,
		pool:      pool,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		batchSize: defaultBatchSize,
		logger:    slog.Default().With("component", "ingestion"),
		now:       time.Now,
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// LastReport returns the report of the most recent refresh, or nil.
func (p *Pipeline) LastReport() *Report {
	return p.last.Load()
}

// Running reports whether a refresh is in progress.
func (p *Pipeline) Running() bool {
	if p.running.TryLock() {
		p.running.Unlock()
		return false
	}
	return true
}

// Refresh fetches up to limit items and replaces the stored article set with
// them. A fetch error or an empty fetch is not an error: the report is marked
// skipped and the previous set stays live. Only one refresh runs at a time;
// a concurrent call returns ErrRefreshInProgress.
func (p *Pipeline) Refresh(ctx context.Context, limit int) (Report, error) {
	if !p.running.TryLock() {
		return Report{}, ErrRefreshInProgress
	}
	defer p.running.Unlock()

	start := p.now()
	report, err := p.refresh(ctx, limit)
	report.Duration = p.now().Sub(start)
	report.FinishedAt = p.now().UTC()
	if err != nil {
		p.logger.Error("refresh failed", "err", err)
		return report, err
	}

	p.last.Store(&report)
	if report.Skipped {
		p.logger.Warn("refresh skipped, keeping previous articles", "reason", report.Reason)
		return report, nil
	}
	p.metrics.RefreshFinished(report.Chunks, report.FailedChunks, report.Duration)
	p.logger.Info("refresh complete",
		"articles", report.Articles,
		"chunks", report.Chunks,
		"failed", report.FailedChunks,
		"duration", report.Duration)
	return report, nil
}

func (p *Pipeline) refresh(ctx context.Context, limit int) (Report, error) {
	items, err := p.source.Fetch(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		return Report{Skipped: true, Reason: err.Error()}, nil
	}
	if len(items) == 0 {
		return Report{Skipped: true, Reason: "feed returned no items"}, nil
	}

	articles, chunks := p.prepare(items)
	if len(chunks) == 0 {
		return Report{Skipped: true, Reason: "no valid articles in feed"}, nil
	}

	failed, err := p.embed(ctx, chunks)
	if err != nil {
		return Report{}, err
	}

	keptArticles, keptChunks, entries := survivors(articles, chunks, failed)
	report := Report{
		Articles:     len(keptArticles),
		Chunks:       len(keptChunks),
		FailedChunks: len(failed),
	}
	if len(keptChunks) == 0 {
		report.Skipped = true
		report.Reason = "no chunks could be embedded"
		return report, nil
	}

	// The new set is staged next to the old one before the index swap, so a
	// query resolves its hits against whichever set the index served. The
	// old set is pruned only after the swap.
	prevArticles, err := p.content.ListArticles(ctx)
	if err != nil {
		return report, fmt.Errorf("snapshot content: %w", err)
	}
	prevChunks, err := p.content.ListChunks(ctx)
	if err != nil {
		return report, fmt.Errorf("snapshot content: %w", err)
	}
	if err := p.content.Stage(ctx, keptArticles, keptChunks); err != nil {
		return report, fmt.Errorf("stage content: %w", err)
	}
	if err := p.index.Replace(ctx, entries); err != nil {
		if rerr := p.content.ReplaceAll(context.WithoutCancel(ctx), prevArticles, prevChunks); rerr != nil {
			p.logger.Error("could not drop staged content", "err", rerr)
		}
		return report, fmt.Errorf("replace index: %w", err)
	}
	if err := p.content.ReplaceAll(ctx, keptArticles, keptChunks); err != nil {
		// the index already serves the new set and every hit still resolves
		p.logger.Warn("could not prune superseded content", "err", err)
	}
	return report, nil
}

// prepare turns feed items into validated, deduplicated articles and
// their chunks.
func (p *Pipeline) prepare(items []core.FeedItem) ([]*core.Article, []*core.Chunk) {
	fetchedAt := p.now()
	seen := make(map[core.ID]struct{}, len(items))
	var articles []*core.Article
	var chunks []*core.Chunk

	for _, item := range items {
		article := core.NewArticle(item, fetchedAt)
		if err := core.ValidateArticle(article); err != nil {
			p.logger.Debug("skipping invalid article", "url", item.URL, "err", err)
			continue
		}
		if _, dup := seen[article.ID]; dup {
			continue
		}
		seen[article.ID] = struct{}{}

		segments, err := Chunk(article.RawText, p.chunkSize, p.overlap)
		if err != nil || len(segments) == 0 {
			continue
		}
		articles = append(articles, article)
		for _, seg := range segments {
			chunks = append(chunks, &core.Chunk{
				ID:        core.ChunkID(article.ID, seg.Position, seg.Text),
				ArticleID: article.ID,
				Text:      seg.Text,
				Position:  seg.Position,
			})
		}
	}
	return articles, chunks
}

// embed fills in chunk embeddings on the worker pool and returns the IDs of
// chunks that could not be embedded.
func (p *Pipeline) embed(ctx context.Context, chunks []*core.Chunk) (map[core.ID]error, error) {
	var (
		mu       sync.Mutex
		failed   = map[core.ID]error{}
		firstErr error
		wg       sync.WaitGroup
	)
	tracker := newProgressTracker(p.progress, len(chunks), p.batchSize)

	for start := 0; start < len(chunks); start += p.batchSize {
		batch := chunks[start:min(start+p.batchSize, len(chunks))]
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			res, err := p.embedder.EmbedBatch(ctx, texts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				firstErr = errors.Join(firstErr, err)
				return
			}
			for i, c := range batch {
				if ferr, bad := res.Failed[i]; bad {
					failed[c.ID] = ferr
					continue
				}
				c.Embedding = res.Vectors[i]
			}
			tracker.Increment(len(batch))
		})
		if err != nil {
			wg.Done()
			return nil, fmt.Errorf("submit embedding task: %w", err)
		}
	}
	wg.Wait()
	tracker.Finish()

	if firstErr != nil {
		return nil, firstErr
	}
	for id, err := range failed {
		p.logger.Debug("chunk embedding failed", "chunk", id, "err", err)
	}
	return failed, nil
}

// survivors drops failed chunks and any article left without chunks.
func survivors(articles []*core.Article, chunks []*core.Chunk, failed map[core.ID]error) ([]*core.Article, []*core.Chunk, []index.Entry) {
	byID := make(map[core.ID]*core.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}

	live := map[core.ID]bool{}
	keptChunks := make([]*core.Chunk, 0, len(chunks))
	entries := make([]index.Entry, 0, len(chunks))
	for _, c := range chunks {
		if _, bad := failed[c.ID]; bad {
			continue
		}
		live[c.ArticleID] = true
		keptChunks = append(keptChunks, c)
		entries = append(entries, index.EntryFromChunk(byID[c.ArticleID], c))
	}

	keptArticles := make([]*core.Article, 0, len(articles))
	for _, a := range articles {
		if live[a.ID] {
			keptArticles = append(keptArticles, a)
		}
	}
	return keptArticles, keptChunks, entries
}

// LoadIndex rebuilds the vector index from the content store, so a restart
// can serve questions before the first refresh completes. It returns the
// number of entries loaded.
func (p *Pipeline) LoadIndex(ctx context.Context) (int, error) {
	articles, err := p.content.ListArticles(ctx)
	if err != nil {
		return 0, err
	}
	chunks, err := p.content.ListChunks(ctx)
	if err != nil {
		return 0, err
	}
	byID := make(map[core.ID]*core.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}
	entries := make([]index.Entry, 0, len(chunks))
	for _, c := range chunks {
		a, ok := byID[c.ArticleID]
		if !ok || len(c.Embedding) == 0 {
			continue
		}
		entries = append(entries, index.EntryFromChunk(a, c))
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := p.index.Replace(ctx, entries); err != nil {
		return 0, err
	}
	p.logger.Info("index loaded from content store", "entries", len(entries))
	return len(entries), nil
}
