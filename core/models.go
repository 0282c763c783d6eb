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


package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for articles and chunks.
// It is derived from content so re-ingesting the same source yields the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID returns the ID of the chunk at position within an article.
// The chunk text is part of the hash, so an article whose text changed
// between refreshes gets new chunk IDs.
func ChunkID(articleID ID, position int, text string) ID {
	return IDFromContent(articleID.String() + ":" + strconv.Itoa(position) + ":" + ContentHash(text))
}

// String renders the ID as 16 lower-case hex digits.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// MarshalText implements encoding.TextMarshaler so IDs survive JSON intact.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 16, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, text)
	}
	*id = ID(v)
	return nil
}

// ParseID parses the hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// ContentHash returns the hex BLAKE2b-256 digest of text.
// It keys the embedding cache.
func ContentHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FeedItem is one entry pulled from a feed source, before it becomes an Article.
type FeedItem struct {
	GUID        string // Optional stable identifier; URL is used when empty
	URL         string
	Title       string
	PublishedAt time.Time
	RawText     string
}

// Article is an ingested news article.
// Articles are immutable once stored; a refresh supersedes the whole set.
type Article struct {
	ID          ID        `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	RawText     string    `json:"-"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// NewArticle builds an Article from a feed item, deriving its ID from the GUID or URL.
func NewArticle(item FeedItem, fetchedAt time.Time) *Article {
	key := item.GUID
	if key == "" {
		key = item.URL
	}
	return &Article{
		ID:          IDFromContent(key),
		URL:         item.URL,
		Title:       item.Title,
		PublishedAt: item.PublishedAt.UTC(),
		RawText:     item.RawText,
		FetchedAt:   fetchedAt.UTC(),
	}
}

// Source returns the provenance pointer for the article.
func (a *Article) Source() SourceRef {
	return SourceRef{ArticleID: a.ID, URL: a.URL, Title: a.Title}
}

// Chunk is a bounded passage of an article's text, the unit of retrieval.
type Chunk struct {
	ID        ID
	ArticleID ID
	Text      string
	Position  int       // Zero-based order within the article
	Embedding []float32 // Populated during ingestion
}

// EmbeddingCacheEntry maps a content hash to its vector.
type EmbeddingCacheEntry struct {
	ContentHash string
	Vector      []float32
}

// SessionState is the lifecycle state of a conversation.
type SessionState int

const (
	// SessionCreated is a session that has not completed its first handshake.
	SessionCreated SessionState = iota + 1
	// SessionActive accepts turns.
	SessionActive
	// SessionClosed is terminal.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one isolated conversation.
type Session struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	State     SessionState `json:"-"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SourceRef points at the article an assistant answer drew from.
type SourceRef struct {
	ArticleID ID     `json:"article_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
}

// Message is one entry in a session's history.
type Message struct {
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Sources   []SourceRef `json:"sources,omitempty"`
}

// DedupeSources returns refs with duplicate article IDs removed, keeping first occurrence order.
func DedupeSources(refs []SourceRef) []SourceRef {
	seen := make(map[ID]bool, len(refs))
	out := make([]SourceRef, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.ArticleID] {
			continue
		}
		seen[ref.ArticleID] = true
		out = append(out, ref)
	}
	return out
}
