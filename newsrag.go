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


// Package newsrag wires the news question-answering service together.
//
// An App owns the content store, the vector index, chat history, the
// embedding client, the ingestion pipeline and the session manager. Each
// remote dependency has an in-process fallback selected at startup or when
// the remote fails, so the service keeps answering while degraded.
package newsrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/openai"
	"github.com/poiesic/newsrag/config"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/embedding"
	"github.com/poiesic/newsrag/feed"
	"github.com/poiesic/newsrag/index"
	"github.com/poiesic/newsrag/index/qdrant"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/metrics"
	"github.com/poiesic/newsrag/retrieval"
	"github.com/poiesic/newsrag/session"
	"github.com/poiesic/newsrag/storage"
	"github.com/poiesic/newsrag/storage/badger"
	"github.com/poiesic/newsrag/storage/memory"
	"github.com/poiesic/newsrag/storage/redis"
)

// DefaultReconnectInterval is how often degraded remotes are re-checked.
const DefaultReconnectInterval = time.Minute

// Dependency names reported by Status and the degraded gauge.
const (
	DependencyEmbedding  = "embedding"
	DependencyGeneration = "generation"
	DependencyHistory    = "history"
	DependencyIndex      = "index"
)

// Status is a snapshot of the service.
type Status struct {
	Sessions    session.Status    `json:"sessions"`
	Articles    int               `json:"articles"`
	Chunks      int               `json:"chunks"`
	Indexed     int               `json:"indexed"`
	Refreshing  bool              `json:"refreshing"`
	LastRefresh *ingestion.Report `json:"last_refresh,omitempty"`
}

// App is a running newsrag instance.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	provider ai.AIProvider
	source   feed.Source
	progress io.Writer

	backend   *badger.Backend
	content   *badger.ContentStore
	cache     *badger.EmbeddingCache
	history   *storage.FailoverHistory
	index     index.Index
	failover  *index.Failover
	embedder  *embedding.Client
	pipeline  *ingestion.Pipeline
	scheduler *ingestion.Scheduler
	retriever *retrieval.Retriever
	sessions  *session.Manager

	reconnectInterval time.Duration
	stopOnce          sync.Once
	cancel            context.CancelFunc
	done              chan struct{}
}

// Option configures an App.
type Option func(*App) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// WithProvider replaces the AI provider built from configuration.
func WithProvider(p ai.AIProvider) Option {
	return func(a *App) error {
		a.provider = p
		return nil
	}
}

// WithFeed replaces the RSS feed built from configuration.
func WithFeed(src feed.Source) Option {
	return func(a *App) error {
		a.source = src
		return nil
	}
}

// WithMetrics sets the metrics collectors. Default is a fresh metrics.New().
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) error {
		a.metrics = m
		return nil
	}
}

// WithProgress reports embedding progress of refreshes to w.
func WithProgress(w io.Writer) Option {
	return func(a *App) error {
		a.progress = w
		return nil
	}
}

// WithReconnectInterval sets how often degraded remotes are re-checked.
func WithReconnectInterval(d time.Duration) Option {
	return func(a *App) error {
		if d <= 0 {
			return fmt.Errorf("reconnect interval must be positive, got %s", d)
		}
		a.reconnectInterval = d
		return nil
	}
}

// New builds an App from cfg. Remote dependencies that cannot be reached
// are replaced by their fallbacks; New fails only on local errors.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	a := &App{
		cfg:               cfg,
		logger:            slog.Default(),
		reconnectInterval: DefaultReconnectInterval,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	if err := a.build(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if a.provider == nil {
		if a.provider, err = openai.NewProvider(ctx, cfg.AI.Provider()); err != nil {
			return fmt.Errorf("creating ai provider: %w", err)
		}
	}

	inMemory := cfg.Storage.DataDir == ""
	if a.backend, err = badger.OpenBackend(cfg.Storage.DataDir, inMemory); err != nil {
		return fmt.Errorf("opening content store: %w", err)
	}
	a.content = badger.NewContentStore(a.backend)
	a.cache = badger.NewEmbeddingCache(a.backend)

	a.history = storage.NewFailoverHistory(ctx, a.remoteHistory(), memory.NewHistory(), a.logger)
	a.index = a.buildIndex()

	status := a.provider.Status()
	a.embedder, err = embedding.NewClient(a.provider.Embedder(), a.provider.FallbackEmbedder(), a.cache,
		embedding.WithBatchSize(cfg.Ingestion.BatchSize),
		embedding.WithRetry(cfg.Ingestion.MaxRetries, cfg.Ingestion.RetryDelay),
		embedding.WithNamespace(cfg.AI.EmbeddingModel),
		embedding.WithStartDegraded(status.EmbeddingDegraded),
		embedding.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	if a.source == nil {
		if a.source, err = feed.NewRSS(cfg.Ingestion.FeedURL, feed.WithLogger(a.logger)); err != nil {
			return err
		}
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithChunking(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithMetrics(a.metrics),
		ingestion.WithLogger(a.logger),
	}
	if cfg.Ingestion.PoolSize > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(cfg.Ingestion.PoolSize))
	}
	if a.progress != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithProgress(a.progress))
	}
	if a.pipeline, err = ingestion.NewPipeline(a.source, a.content, a.index, a.embedder, pipelineOpts...); err != nil {
		return err
	}

	a.scheduler, err = ingestion.NewScheduler(a.pipeline, cfg.Ingestion.Schedule,
		ingestion.WithCheckInterval(cfg.Ingestion.CheckInterval),
		ingestion.WithRefreshLimit(cfg.Ingestion.RefreshLimit),
		ingestion.WithSchedulerLogger(a.logger),
	)
	if err != nil {
		return err
	}

	if a.retriever, err = retrieval.NewRetriever(a.embedder, a.index, a.content,
		retrieval.WithOverFetch(cfg.Retrieval.OverFetch),
		retrieval.WithLogger(a.logger),
	); err != nil {
		return err
	}

	dependencies := map[string]func() bool{
		DependencyEmbedding:  a.embedder.Degraded,
		DependencyGeneration: func() bool { return a.provider.Status().GenerationDegraded },
		DependencyHistory:    a.history.Degraded,
		DependencyIndex:      a.indexDegraded,
	}
	sessionOpts := []session.Option{
		session.WithTopK(cfg.Retrieval.TopK),
		session.WithMaxInputLength(cfg.Session.MaxMessageLength),
		session.WithPrompt(cfg.Prompt.SystemPrompt, cfg.Prompt.Budget, cfg.Prompt.MaxHistory),
		session.WithMetrics(a.metrics),
		session.WithLogger(a.logger),
	}
	for name, fn := range dependencies {
		sessionOpts = append(sessionOpts, session.WithDependency(name, fn))
		if err := a.metrics.RegisterDegraded(name, fn); err != nil {
			return err
		}
	}
	if a.sessions, err = session.NewManager(a.history, a.retriever, a.provider.Generator(), sessionOpts...); err != nil {
		return err
	}
	return nil
}

// remoteHistory returns the Redis history store, or nil when Redis is not configured.
func (a *App) remoteHistory() storage.RemoteHistoryStore {
	rc := a.cfg.Redis
	if !rc.Enabled() {
		a.logger.Info("redis not configured, keeping chat history in memory")
		return nil
	}
	h, err := redis.NewHistory(rc.Addr(), rc.Password, rc.DB,
		redis.WithTTL(rc.HistoryTTL),
		redis.WithLogger(a.logger),
	)
	if err != nil {
		a.logger.Warn("could not create redis history store", "addr", rc.Addr(), "err", err)
		return nil
	}
	return h
}

// buildIndex returns the Qdrant index behind an in-memory mirror, or a
// plain in-memory index when Qdrant is disabled.
func (a *App) buildIndex() index.Index {
	qc := a.cfg.Qdrant
	if !qc.Enabled {
		return index.NewMemory()
	}
	q, err := qdrant.New(qdrant.Config{
		URL:       qc.URL,
		APIKey:    qc.APIKey,
		Alias:     qc.Collection,
		Dimension: a.cfg.AI.EmbeddingDimension,
		Timeout:   qc.Timeout,
	}, qdrant.WithLogger(a.logger))
	if err != nil {
		a.logger.Warn("could not create qdrant index, using in-memory index", "err", err)
		a.failover = index.NewFailover(nil, a.logger)
	} else {
		a.failover = index.NewFailover(q, a.logger)
	}
	return a.failover
}

func (a *App) indexDegraded() bool {
	return a.failover != nil && a.failover.Degraded()
}

// Start loads the stored article set into the index, runs an initial
// refresh when nothing is stored yet, and starts the refresh scheduler.
func (a *App) Start(ctx context.Context) error {
	n, err := a.pipeline.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	if n == 0 {
		report, err := a.pipeline.Refresh(ctx, a.cfg.Ingestion.InitialLimit)
		if err != nil {
			a.logger.Error("initial refresh failed", "err", err)
		} else {
			a.logger.Info("initial refresh finished", "articles", report.Articles, "chunks", report.Chunks, "skipped", report.Skipped)
		}
	} else {
		a.logger.Info("loaded stored articles into index", "chunks", n)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.scheduler.Start(runCtx)
	go a.reconnectLoop(runCtx)
	return nil
}

func (a *App) reconnectLoop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Reconnect(ctx)
		}
	}
}

// Reconnect re-checks degraded remote dependencies: history, the vector
// index and the embedding provider.
func (a *App) Reconnect(ctx context.Context) {
	if a.history.Degraded() {
		if err := a.history.Reconnect(ctx); err != nil && !errors.Is(err, storage.ErrStorageClosed) {
			a.logger.Debug("history store still unavailable", "err", err)
		}
	}
	if a.failover != nil && a.failover.Degraded() {
		if err := a.failover.Probe(ctx); err != nil {
			a.logger.Debug("vector index still unavailable", "err", err)
		}
	}
	if a.embedder.Degraded() {
		if err := a.embedder.Probe(ctx); err != nil && !errors.Is(err, embedding.ErrNoPrimary) {
			a.logger.Debug("embedding provider still unavailable", "err", err)
		}
	}
}

// Refresh runs one ingestion pass with the periodic limit.
func (a *App) Refresh(ctx context.Context) (ingestion.Report, error) {
	return a.pipeline.Refresh(ctx, a.cfg.Ingestion.RefreshLimit)
}

// CreateSession starts a conversation.
func (a *App) CreateSession(ctx context.Context) (*core.Session, error) {
	return a.sessions.Create(ctx)
}

// History lists a session's messages.
func (a *App) History(ctx context.Context, id string) ([]core.Message, error) {
	return a.sessions.History(ctx, id)
}

// DeleteSession clears a session's history and closes it.
func (a *App) DeleteSession(ctx context.Context, id string) error {
	return a.sessions.Delete(ctx, id)
}

// Turn answers text within session id. See session.Manager.Turn.
func (a *App) Turn(ctx context.Context, id, text string, clientTime time.Time) (<-chan session.Event, error) {
	return a.sessions.Turn(ctx, id, text, clientTime)
}

// Ask answers a single question in a throwaway session, writing tokens
// to w as they arrive. It returns the cited sources.
func (a *App) Ask(ctx context.Context, question string, w io.Writer) ([]core.SourceRef, error) {
	s, err := a.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.sessions.Delete(context.WithoutCancel(ctx), s.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			a.logger.Warn("error deleting session", "session", s.ID, "err", err)
		}
	}()

	events, err := a.sessions.Turn(ctx, s.ID, question, time.Time{})
	if err != nil {
		return nil, err
	}
	for ev := range events {
		switch ev.Type {
		case session.EventStream:
			if _, err := io.WriteString(w, ev.Content); err != nil {
				return nil, err
			}
		case session.EventError:
			return nil, errors.New(ev.Content)
		case session.EventEnd:
			return ev.Sources, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ai.ErrStreamClosed
}

// Status reports sessions, dependency health and stored counts.
func (a *App) Status(ctx context.Context) (Status, error) {
	articles, chunks, err := a.content.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	indexed, err := a.index.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Sessions:    a.sessions.Status(),
		Articles:    articles,
		Chunks:      chunks,
		Indexed:     indexed,
		Refreshing:  a.pipeline.Running(),
		LastRefresh: a.pipeline.LastReport(),
	}, nil
}

// Metrics returns the collectors of this instance.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Close stops background work and releases every resource.
func (a *App) Close() error {
	var err error
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
			a.scheduler.Stop()
			<-a.done
		}
		err = a.closeAll()
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.pipeline != nil {
		a.pipeline.Release()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Error("error closing history store", "err", err)
			errs = append(errs, err)
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
