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


package index

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/poiesic/newsrag/core"
)

// snapshot is an immutable view of the index. It is never modified after
// being published.
type snapshot struct {
	dim     int
	entries map[core.ID]Entry
}

// Memory is a brute-force in-process Index.
//
// Readers load the current snapshot without locking. Writers serialize on a
// mutex, build a new snapshot and publish it atomically.
type Memory struct {
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	m := &Memory{}
	m.current.Store(&snapshot{entries: map[core.ID]Entry{}})
	return m
}

func (m *Memory) Upsert(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()
	dim, err := validateEntries(old.dim, entries)
	if err != nil {
		return err
	}
	next := &snapshot{dim: dim, entries: maps.Clone(old.entries)}
	for _, e := range entries {
		e.Vector = slices.Clone(e.Vector)
		next.entries[e.ChunkID] = e
	}
	m.current.Store(next)
	return nil
}

func (m *Memory) Replace(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dim, err := validateEntries(0, entries)
	if err != nil {
		return err
	}
	next := &snapshot{dim: dim, entries: make(map[core.ID]Entry, len(entries))}
	for _, e := range entries {
		e.Vector = slices.Clone(e.Vector)
		next.entries[e.ChunkID] = e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Store(next)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	return m.Replace(ctx, nil)
}

func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := m.current.Load()
	if k <= 0 || len(snap.entries) == 0 {
		return []Hit{}, nil
	}
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if len(vector) != snap.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), snap.dim)
	}

	hits := make([]Hit, 0, len(snap.entries))
	for _, e := range snap.entries {
		hits = append(hits, Hit{
			ChunkID:     e.ChunkID,
			ArticleID:   e.ArticleID,
			PublishedAt: e.PublishedAt,
			Position:    e.Position,
			Score:       Cosine(vector, e.Vector),
		})
	}
	return Rank(hits, k), nil
}

func (m *Memory) Count(context.Context) (int, error) {
	return len(m.current.Load().entries), nil
}

// Entries returns every entry in the current snapshot. Vectors are shared
// with the index and must not be modified.
func (m *Memory) Entries() []Entry {
	return slices.Collect(maps.Values(m.current.Load().entries))
}
