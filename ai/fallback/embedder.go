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


package fallback

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/poiesic/newsrag/ai"
)

// Embedder is a feature-hashing vectorizer.
// Each lower-cased word is hashed into one of dim buckets with a hash-derived sign,
// so texts sharing vocabulary land close together under cosine similarity.
type Embedder struct {
	dim int
}

var _ ai.Embedder = (*Embedder)(nil)

// NewEmbedder creates a vectorizer producing dim-sized unit vectors.
func NewEmbedder(dim int) *Embedder {
	if dim < 1 {
		dim = 1
	}
	return &Embedder{dim: dim}
}

// Dimension returns the vector size.
func (e *Embedder) Dimension() int {
	return e.dim
}

// EmbedText returns the hashed vector for text. It never fails.
func (e *Embedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return e.vectorize(text), nil
}

// EmbedTexts vectorizes each text independently.
func (e *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.vectorize(text)
	}
	return out, nil
}

func (e *Embedder) vectorize(text string) []float32 {
	vector := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		// Punctuation-only or empty text still gets a stable non-zero vector.
		words = []string{text}
	}

	for _, word := range words {
		h := fnv.New64a()
		h.Write([]byte(word))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		// Every word cancelled out; fall back to a fixed basis vector.
		vector[0] = 1
		return vector
	}
	norm := float32(1 / math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
