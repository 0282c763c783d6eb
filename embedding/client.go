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


package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond

	fallbackNamespace = "fallback"
)

// BatchResult holds the outcome of EmbedBatch. Vectors[i] is nil exactly
// when Failed has an entry for i.
type BatchResult struct {
	Vectors [][]float32
	Failed  map[int]error
}

// Client embeds text through a primary provider with a content-hash cache in
// front of it.
//
// When the provider rejects the credentials the client switches to the
// fallback embedder for the rest of its lifetime. When the provider stays
// unreachable after retries it switches too, and Probe switches back once
// the provider answers again. Cache entries are namespaced by the embedder
// that produced them, so fallback vectors never answer for provider vectors.
type Client struct {
	primary    ai.Embedder
	fallback   ai.Embedder
	cache      storage.EmbeddingCache
	namespace  string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	degraded atomic.Bool
	rejected atomic.Bool
	calls    atomic.Int64
	group    singleflight.Group
}

// Option configures a Client.
type Option func(*Client) error

// WithBatchSize sets the number of texts sent per provider call.
func WithBatchSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithRetry sets the attempts per item and the base backoff delay.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxRetries = maxAttempts
		c.retryDelay = delay
		return nil
	}
}

// WithNamespace sets the cache namespace for provider vectors, normally the
// embedding model name.
func WithNamespace(ns string) Option {
	return func(c *Client) error {
		c.namespace = ns
		return nil
	}
}

// WithStartDegraded starts the client on the fallback embedder.
func WithStartDegraded(degraded bool) Option {
	return func(c *Client) error {
		c.degraded.Store(degraded)
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "embedding")
		return nil
	}
}

// NewClient creates a Client. A nil primary, or a primary that is the
// fallback itself, starts degraded.
func NewClient(primary, fallback ai.Embedder, cache storage.EmbeddingCache, opts ...Option) (*Client, error) {
	if fallback == nil {
		return nil, ErrNoFallback
	}
	if cache == nil {
		return nil, errors.New("embedding cache is required")
	}
	c := &Client{
		primary:    primary,
		fallback:   fallback,
		cache:      cache,
		namespace:  "primary",
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default().With("component", "embedding"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if primary == fallback {
		c.primary = nil
	}
	if c.primary == nil {
		c.degraded.Store(true)
	}
	return c, nil
}

// Degraded reports whether the fallback embedder is in use.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

// ProviderCalls returns the number of calls made to either embedder.
func (c *Client) ProviderCalls() int64 {
	return c.calls.Load()
}

// ClearCache evicts every cached vector.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// outage reports whether err means the provider cannot serve requests.
func outage(err error) bool {
	return errors.Is(err, ai.ErrUnauthorized) || errors.Is(err, ai.ErrUnavailable)
}

func (c *Client) degrade(err error) {
	if errors.Is(err, ai.ErrUnauthorized) {
		c.rejected.Store(true)
	}
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("embedding provider failed, using fallback embedder", "err", err)
	}
}

// Probe checks a degraded primary and switches back to it when it answers.
// A primary that rejected the credentials is never retried.
func (c *Client) Probe(ctx context.Context) error {
	if !c.Degraded() {
		return nil
	}
	if c.primary == nil || c.rejected.Load() {
		return ErrNoPrimary
	}
	c.calls.Add(1)
	if _, err := c.primary.EmbedText(ctx, "probe"); err != nil {
		if errors.Is(err, ai.ErrUnauthorized) {
			c.rejected.Store(true)
		}
		return err
	}
	if c.degraded.CompareAndSwap(true, false) {
		c.logger.Info("embedding provider reachable again, leaving fallback embedder")
	}
	return nil
}

func (c *Client) cacheKey(text string, degraded bool) string {
	ns := c.namespace
	if degraded {
		ns = fallbackNamespace
	}
	return core.ContentHash(ns + ":" + text)
}

func (c *Client) lookup(ctx context.Context, text string) ([]float32, bool) {
	v, ok, err := c.cache.Get(ctx, c.cacheKey(text, c.Degraded()))
	if err != nil {
		c.logger.Warn("embedding cache read failed", "err", err)
		return nil, false
	}
	return v, ok
}

func (c *Client) store(ctx context.Context, text string, degraded bool, v []float32) {
	if err := c.cache.Put(ctx, c.cacheKey(text, degraded), v); err != nil {
		c.logger.Warn("embedding cache write failed", "err", err)
	}
}

// Embed returns the vector for text, calling the provider only on a cache
// miss. Concurrent misses for the same text share one provider call.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}

	key := c.cacheKey(text, c.Degraded())
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lookup(ctx, text); ok {
			return v, nil
		}
		v, degraded, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		c.store(ctx, text, degraded, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]float32)), nil
}

// embedOne embeds a single text with retries. It reports whether the result
// came from the fallback embedder.
func (c *Client) embedOne(ctx context.Context, text string) ([]float32, bool, error) {
	if !c.Degraded() {
		var v []float32
		err := RetryWithBackoff(ctx, func() error {
			c.calls.Add(1)
			var err error
			v, err = c.primary.EmbedText(ctx, text)
			return err
		}, c.maxRetries, c.retryDelay)
		if err == nil {
			return NormalizeVector(v), false, nil
		}
		if !outage(err) {
			return nil, false, err
		}
		c.degrade(err)
	}
	c.calls.Add(1)
	v, err := c.fallback.EmbedText(ctx, text)
	if err != nil {
		return nil, true, err
	}
	return NormalizeVector(v), true, nil
}

// embedGroup embeds texts in a single call. It reports whether the result
// came from the fallback embedder.
func (c *Client) embedGroup(ctx context.Context, texts []string) ([][]float32, bool, error) {
	embedder, degraded := c.primary, c.Degraded()
	if degraded {
		embedder = c.fallback
	}
	c.calls.Add(1)
	vectors, err := embedder.EmbedTexts(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: expected %d embeddings, got %d", ai.ErrEmptyResponse, len(texts), len(vectors))
	}
	if err != nil {
		return nil, degraded, err
	}
	for i := range vectors {
		vectors[i] = NormalizeVector(vectors[i])
	}
	return vectors, degraded, nil
}

// EmbedBatch embeds texts, serving cached items from the cache and sending
// misses to the provider in groups of the batch size. A failed group is
// retried item by item. Items that still fail are reported in
// BatchResult.Failed. The returned error is non-nil only when ctx is done.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) (BatchResult, error) {
	result := BatchResult{
		Vectors: make([][]float32, len(texts)),
		Failed:  map[int]error{},
	}

	// unique missing texts in first-seen order, with every index they fill
	var pending []string
	slots := map[string][]int{}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result.Failed[i] = ErrEmptyText
			continue
		}
		if v, ok := c.lookup(ctx, text); ok {
			result.Vectors[i] = v
			continue
		}
		if _, seen := slots[text]; !seen {
			pending = append(pending, text)
		}
		slots[text] = append(slots[text], i)
	}

	fill := func(text string, v []float32, err error) {
		for j, i := range slots[text] {
			if err != nil {
				result.Failed[i] = err
				continue
			}
			if j > 0 {
				v = slices.Clone(v)
			}
			result.Vectors[i] = v
		}
	}

	for group := range slices.Chunk(pending, c.batchSize) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		vectors, degraded, err := c.embedGroup(ctx, group)
		if errors.Is(err, ai.ErrUnauthorized) {
			c.degrade(err)
			vectors, degraded, err = c.embedGroup(ctx, group)
		}
		if err == nil {
			for k, text := range group {
				c.store(ctx, text, degraded, vectors[k])
				fill(text, vectors[k], nil)
			}
			continue
		}

		c.logger.Debug("batch embedding failed, retrying items individually", "size", len(group), "err", err)
		for _, text := range group {
			v, degraded, err := c.embedOne(ctx, text)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			if err == nil {
				c.store(ctx, text, degraded, v)
			}
			fill(text, v, err)
		}
	}

	if len(result.Failed) > 0 {
		c.logger.Warn("some texts could not be embedded", "failed", len(result.Failed), "total", len(texts))
	}
	return result, nil
}
