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
	"encoding/binary"
	"time"

	"github.com/poiesic/newsrag/core"
)

// Key prefixes for different data types
const (
	articlePrefix     = "art:"
	articleDatePrefix = "artd:"
	chunkPrefix       = "chk:"
	embeddingPrefix   = "embc:"
)

func idKey(prefix string, id core.ID) []byte {
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeArticleKey generates a key for an article by ID.
func makeArticleKey(id core.ID) []byte {
	return idKey(articlePrefix, id)
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id core.ID) []byte {
	return idKey(chunkPrefix, id)
}

// makeArticleDateKey generates a composite key for the publication date index.
// Format: prefix:timestamp:id
func makeArticleDateKey(timestamp time.Time, id core.ID) []byte {
	buf := make([]byte, len(articleDatePrefix)+16)
	offset := copy(buf, articleDatePrefix)
	// BigEndian so lexicographic order is chronological order.
	// Times before the epoch sort first.
	binary.BigEndian.PutUint64(buf[offset:], uint64(max(timestamp.UnixMicro(), 0)))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// idFromDateKey extracts the article ID from a date index key.
func idFromDateKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func makeEmbeddingKey(hash string) []byte {
	return []byte(embeddingPrefix + hash)
}
