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
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

// ContentStore implements storage.ContentStore for BadgerDB.
type ContentStore struct {
	backend *Backend
}

var _ storage.ContentStore = (*ContentStore)(nil)

// NewContentStore creates a ContentStore on backend.
func NewContentStore(backend *Backend) *ContentStore {
	return &ContentStore{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (s *ContentStore) Close() error {
	return nil
}

func checkOrphans(articles []*core.Article, chunks []*core.Chunk) error {
	live := make(map[core.ID]struct{}, len(articles))
	for _, a := range articles {
		live[a.ID] = struct{}{}
	}
	for _, c := range chunks {
		if _, ok := live[c.ArticleID]; !ok {
			return fmt.Errorf("%w: chunk %s references article %s", storage.ErrOrphanChunk, c.ID, c.ArticleID)
		}
	}
	return nil
}

func writeSet(tx *badger.Txn, articles []*core.Article, chunks []*core.Chunk) error {
	for _, a := range articles {
		if err := tx.Set(makeArticleKey(a.ID), storage.MarshalArticle(a)); err != nil {
			return err
		}
		if err := tx.Set(makeArticleDateKey(a.PublishedAt, a.ID), nil); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := tx.Set(makeChunkKey(c.ID), storage.MarshalChunk(c)); err != nil {
			return err
		}
	}
	return nil
}

// Stage adds the set in a single transaction. A staged article that is
// already stored under another publish date loses its old date key.
func (s *ContentStore) Stage(ctx context.Context, articles []*core.Article, chunks []*core.Chunk) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if err := checkOrphans(articles, chunks); err != nil {
		return err
	}

	return s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, a := range articles {
			prev, err := readValue(tx, makeArticleKey(a.ID), storage.UnmarshalArticle)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !prev.PublishedAt.Equal(a.PublishedAt) {
				if err := tx.Delete(makeArticleDateKey(prev.PublishedAt, a.ID)); err != nil {
					return err
				}
			}
		}
		return writeSet(tx, articles, chunks)
	}, true)
}

// ReplaceAll deletes the stored article and chunk sets and writes the new ones
// in a single transaction.
func (s *ContentStore) ReplaceAll(ctx context.Context, articles []*core.Article, chunks []*core.Chunk) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if err := checkOrphans(articles, chunks); err != nil {
		return err
	}

	return s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, prefix := range []string{articlePrefix, articleDatePrefix, chunkPrefix} {
			for _, key := range collectKeys(tx, []byte(prefix)) {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
		}
		return writeSet(tx, articles, chunks)
	}, true)
}

func (s *ContentStore) GetArticle(ctx context.Context, id core.ID) (*core.Article, error) {
	var article *core.Article
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		article, err = readValue(tx, makeArticleKey(id), storage.UnmarshalArticle)
		return err
	}, false)
	return article, err
}

func (s *ContentStore) GetChunk(ctx context.Context, id core.ID) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		var err error
		chunk, err = readValue(tx, makeChunkKey(id), storage.UnmarshalChunk)
		return err
	}, false)
	return chunk, err
}

// ListArticles walks the date index and returns articles newest first.
func (s *ContentStore) ListArticles(ctx context.Context) ([]*core.Article, error) {
	articles := []*core.Article{}
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, key := range collectKeys(tx, []byte(articleDatePrefix)) {
			article, err := readValue(tx, makeArticleKey(idFromDateKey(key)), storage.UnmarshalArticle)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			articles = append(articles, article)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.Reverse(articles)
	return articles, nil
}

func (s *ContentStore) ListChunks(ctx context.Context) ([]*core.Chunk, error) {
	chunks := []*core.Chunk{}
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(chunkPrefix), func(_, val []byte) error {
			chunk, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *ContentStore) Counts(ctx context.Context) (int, int, error) {
	var articles, chunks int
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		articles = len(collectKeys(tx, []byte(articlePrefix)))
		chunks = len(collectKeys(tx, []byte(chunkPrefix)))
		return nil
	}, false)
	return articles, chunks, err
}

// readValue fetches key and decodes it, mapping a missing key to storage.ErrNotFound.
func readValue[T any](tx *badger.Txn, key []byte, decode func([]byte) (T, error)) (T, error) {
	var out T
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, storage.ErrNotFound
	}
	if err != nil {
		return out, err
	}
	err = item.Value(func(val []byte) error {
		var err error
		out, err = decode(val)
		return err
	})
	return out, err
}
