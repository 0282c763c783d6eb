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


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/newsrag/storage"
)

// EmbeddingCache implements storage.EmbeddingCache for BadgerDB.
// Vectors are stored under embc:{hash}.
type EmbeddingCache struct {
	backend *Backend
}

var _ storage.EmbeddingCache = (*EmbeddingCache)(nil)

// NewEmbeddingCache creates an EmbeddingCache on backend.
func NewEmbeddingCache(backend *Backend) *EmbeddingCache {
	return &EmbeddingCache{backend: backend}
}

func (c *EmbeddingCache) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	var vector []float32
	err := c.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		vector, err = readValue(tx, makeEmbeddingKey(hash), storage.UnmarshalVector)
		return err
	}, false)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vector, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, hash string, vector []float32) error {
	return c.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeEmbeddingKey(hash), storage.MarshalVector(vector))
	}, true)
}

func (c *EmbeddingCache) Clear(context.Context) error {
	return c.backend.db.DropPrefix([]byte(embeddingPrefix))
}

func (c *EmbeddingCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.backend.WithTx(ctx, func(tx *badger.Txn) error {
		n = len(collectKeys(tx, []byte(embeddingPrefix)))
		return nil
	}, false)
	return n, err
}
