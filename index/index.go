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
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/poiesic/newsrag/core"
)

// Entry is a chunk vector together with the metadata used for ranking.
type Entry struct {
	ChunkID     core.ID
	ArticleID   core.ID
	PublishedAt time.Time
	Position    int
	Vector      []float32
}

// Hit is a query result.
type Hit struct {
	ChunkID     core.ID
	ArticleID   core.ID
	PublishedAt time.Time
	Position    int
	Score       float32
}

// Index stores entries and answers similarity queries.
// Implementations must be safe for concurrent use. Queries must never
// observe a partially applied Replace.
type Index interface {
	// Upsert inserts or overwrites entries by ChunkID.
	Upsert(ctx context.Context, entries ...Entry) error

	// Query returns up to k entries closest to vector, ordered by Rank.
	// k <= 0 returns no hits.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Replace atomically swaps the whole entry set for entries.
	Replace(ctx context.Context, entries []Entry) error

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}

// EntryFromChunk builds an index entry for a chunk of article.
func EntryFromChunk(article *core.Article, chunk *core.Chunk) Entry {
	return Entry{
		ChunkID:     chunk.ID,
		ArticleID:   article.ID,
		PublishedAt: article.PublishedAt,
		Position:    chunk.Position,
		Vector:      chunk.Embedding,
	}
}

// Cosine returns the cosine similarity of a and b.
// A zero-length or zero-magnitude vector yields 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// CompareHits orders by score descending, then newer PublishedAt, then lower
// Position, then lower ChunkID.
func CompareHits(a, b Hit) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

// Rank sorts hits in place and returns at most k of them.
func Rank(hits []Hit, k int) []Hit {
	if k <= 0 {
		return []Hit{}
	}
	slices.SortFunc(hits, CompareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func validateEntries(dim int, entries []Entry) (int, error) {
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return dim, fmt.Errorf("%w: chunk %s", ErrEmptyVector, e.ChunkID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return dim, fmt.Errorf("%w: chunk %s has %d, want %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
	}
	return dim, nil
}
