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


package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/poiesic/newsrag/storage"
)

// Cache is an unbounded EmbeddingCache kept in process memory.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

var _ storage.EmbeddingCache = (*Cache)(nil)

// NewCache creates an empty in-memory embedding cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]float32)}
}

func (c *Cache) Get(_ context.Context, hash string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[hash]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (c *Cache) Put(_ context.Context, hash string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = slices.Clone(vector)
	return nil
}

func (c *Cache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}

func (c *Cache) Len(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
