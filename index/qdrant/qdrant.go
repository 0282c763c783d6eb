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


// Package qdrant implements index.Index on the Qdrant REST API.
//
// Each generation of the index lives in its own collection named
// <alias>_<unix nanos>. Queries and writes address the alias, and Replace
// fills a fresh collection before repointing the alias in one request, so
// readers move from the old generation to the new one atomically.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/index"
)

const (
	DefaultAlias = "news_articles"

	defaultTimeout = 15 * time.Second
	upsertBatch    = 256
)

var errNotFound = errors.New("not found")

// Config configures the Qdrant client.
type Config struct {
	URL       string
	APIKey    string
	Alias     string
	Dimension int
	Timeout   time.Duration
}

// Index is an index.Index stored in Qdrant.
type Index struct {
	baseURL   string
	apiKey    string
	alias     string
	dimension int
	client    *http.Client
	logger    *slog.Logger
}

var (
	_ index.Index  = (*Index)(nil)
	_ index.Pinger = (*Index)(nil)
)

// Option configures an Index.
type Option func(*Index) error

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Index) error {
		if client == nil {
			return errors.New("http client cannot be nil")
		}
		i.client = client
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger.With("component", "qdrant")
		return nil
	}
}

// New creates a client for the Qdrant server at cfg.URL.
func New(cfg Config, opts ...Option) (*Index, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant dimension must be positive, got %d", cfg.Dimension)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	alias := cfg.Alias
	if alias == "" {
		alias = DefaultAlias
	}
	i := &Index{
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		apiKey:    cfg.APIKey,
		alias:     alias,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: timeout},
		logger:    slog.Default().With("component", "qdrant"),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

type point struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload payload   `json:"payload"`
}

type payload struct {
	ChunkID   core.ID `json:"chunk_id"`
	ArticleID core.ID `json:"article_id"`
	Published int64   `json:"published"`
	Position  int     `json:"position"`
}

type scoredPoint struct {
	ID      uint64  `json:"id"`
	Score   float32 `json:"score"`
	Payload payload `json:"payload"`
}

type aliasDescription struct {
	AliasName      string `json:"alias_name"`
	CollectionName string `json:"collection_name"`
}

func toPoint(e index.Entry) point {
	var published int64
	if !e.PublishedAt.IsZero() {
		published = e.PublishedAt.Unix()
	}
	return point{
		ID:     uint64(e.ChunkID),
		Vector: e.Vector,
		Payload: payload{
			ChunkID:   e.ChunkID,
			ArticleID: e.ArticleID,
			Published: published,
			Position:  e.Position,
		},
	}
}

func (p payload) publishedAt() time.Time {
	if p.Published == 0 {
		return time.Time{}
	}
	return time.Unix(p.Published, 0).UTC()
}

// Ping checks that the server answers.
func (i *Index) Ping(ctx context.Context) error {
	return i.do(ctx, http.MethodGet, "/collections", nil, nil)
}

// currentCollection returns the collection the alias points at, or "" if unset.
func (i *Index) currentCollection(ctx context.Context) (string, error) {
	var result struct {
		Aliases []aliasDescription `json:"aliases"`
	}
	if err := i.do(ctx, http.MethodGet, "/aliases", nil, &result); err != nil {
		return "", err
	}
	for _, a := range result.Aliases {
		if a.AliasName == i.alias {
			return a.CollectionName, nil
		}
	}
	return "", nil
}

func (i *Index) createCollection(ctx context.Context) (string, error) {
	name := fmt.Sprintf("%s_%d", i.alias, time.Now().UnixNano())
	body := map[string]any{
		"vectors": map[string]any{
			"size":     i.dimension,
			"distance": "Cosine",
		},
	}
	if err := i.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return "", err
	}
	return name, nil
}

func (i *Index) pointAlias(ctx context.Context, collection, previous string) error {
	var actions []map[string]any
	if previous != "" {
		actions = append(actions, map[string]any{
			"delete_alias": map[string]any{"alias_name": i.alias},
		})
	}
	actions = append(actions, map[string]any{
		"create_alias": map[string]any{"collection_name": collection, "alias_name": i.alias},
	})
	return i.do(ctx, http.MethodPost, "/collections/aliases", map[string]any{"actions": actions}, nil)
}

func (i *Index) upsertInto(ctx context.Context, collection string, entries []index.Entry) error {
	for start := 0; start < len(entries); start += upsertBatch {
		end := min(start+upsertBatch, len(entries))
		points := make([]point, 0, end-start)
		for _, e := range entries[start:end] {
			if len(e.Vector) != i.dimension {
				return fmt.Errorf("%w: chunk %s has %d, want %d", index.ErrDimensionMismatch, e.ChunkID, len(e.Vector), i.dimension)
			}
			points = append(points, toPoint(e))
		}
		path := "/collections/" + collection + "/points?wait=true"
		if err := i.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
			return err
		}
	}
	return nil
}

// ensureAlias creates a first generation when the alias does not exist yet.
func (i *Index) ensureAlias(ctx context.Context) error {
	current, err := i.currentCollection(ctx)
	if err != nil || current != "" {
		return err
	}
	name, err := i.createCollection(ctx)
	if err != nil {
		return err
	}
	return i.pointAlias(ctx, name, "")
}

func (i *Index) Upsert(ctx context.Context, entries ...index.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := i.ensureAlias(ctx); err != nil {
		return err
	}
	return i.upsertInto(ctx, i.alias, entries)
}

// Replace builds a new generation, repoints the alias and drops the previous
// collection. A failure before the alias swap leaves the old generation live.
func (i *Index) Replace(ctx context.Context, entries []index.Entry) error {
	previous, err := i.currentCollection(ctx)
	if err != nil {
		return err
	}
	name, err := i.createCollection(ctx)
	if err != nil {
		return err
	}
	if err := i.upsertInto(ctx, name, entries); err != nil {
		i.dropCollection(ctx, name)
		return err
	}
	if err := i.pointAlias(ctx, name, previous); err != nil {
		i.dropCollection(ctx, name)
		return err
	}
	if previous != "" {
		i.dropCollection(ctx, previous)
	}
	i.logger.Debug("index generation replaced", "collection", name, "entries", len(entries))
	return nil
}

func (i *Index) dropCollection(ctx context.Context, name string) {
	if err := i.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil); err != nil {
		i.logger.Warn("failed to drop collection", "collection", name, "err", err)
	}
}

func (i *Index) Clear(ctx context.Context) error {
	return i.Replace(ctx, nil)
}

func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return []index.Hit{}, nil
	}
	if len(vector) != i.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", index.ErrDimensionMismatch, len(vector), i.dimension)
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var result []scoredPoint
	err := i.do(ctx, http.MethodPost, "/collections/"+i.alias+"/points/search", body, &result)
	if errors.Is(err, errNotFound) {
		return []index.Hit{}, nil
	}
	if err != nil {
		return nil, err
	}
	hits := make([]index.Hit, 0, len(result))
	for _, p := range result {
		hits = append(hits, index.Hit{
			ChunkID:     core.ID(p.ID),
			ArticleID:   p.Payload.ArticleID,
			PublishedAt: p.Payload.publishedAt(),
			Position:    p.Payload.Position,
			Score:       p.Score,
		})
	}
	return index.Rank(hits, k), nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	err := i.do(ctx, http.MethodPost, "/collections/"+i.alias+"/points/count", map[string]any{"exact": true}, &result)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	return result.Count, err
}

// do sends a JSON request and decodes the "result" field of the response into out.
func (i *Index) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if i.apiKey != "" {
		req.Header.Set("api-key", i.apiKey)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", index.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("qdrant %s %s: %w", method, path, errNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: qdrant %s %s: %s", index.ErrUnavailable, method, path, resp.Status)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("qdrant %s %s: decode response: %w", method, path, err)
	}
	return json.Unmarshal(envelope.Result, out)
}
