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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/newsrag/core"
)

// decoder walks a MUS-encoded buffer, remembering the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) time() time.Time {
	micros := d.int64()
	if micros == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

func (d *decoder) vector() []float32 {
	length := d.uint64()
	if d.err != nil || length == 0 {
		return nil
	}
	// Every float32 takes four bytes; reject lengths the buffer cannot hold.
	if length > uint64(len(d.bs)-d.n)/4 {
		d.err = ErrTruncatedData
		return nil
	}
	vector := make([]float32, length)
	for i := range vector {
		v, n, err := raw.Float32.Unmarshal(d.bs[d.n:])
		d.n += n
		if err != nil {
			d.err = err
			return nil
		}
		vector[i] = v
	}
	return vector
}

func (d *decoder) finish() error {
	if d.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
	}
	return nil
}

func timeMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func vectorSize(v []float32) int {
	size := varint.Uint64.Size(uint64(len(v)))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.Uint64.Marshal(uint64(len(v)), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

// MarshalVector serializes an embedding vector to bytes.
func MarshalVector(v []float32) []byte {
	buf := make([]byte, vectorSize(v))
	marshalVector(v, buf)
	return buf
}

// UnmarshalVector deserializes an embedding vector from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	d := &decoder{bs: data}
	v := d.vector()
	return v, d.finish()
}

// MarshalArticle serializes an Article to bytes.
func MarshalArticle(a *core.Article) []byte {
	size := varint.Uint64.Size(uint64(a.ID)) +
		ord.String.Size(a.URL) +
		ord.String.Size(a.Title) +
		varint.Int64.Size(timeMicros(a.PublishedAt)) +
		ord.String.Size(a.RawText) +
		varint.Int64.Size(timeMicros(a.FetchedAt))

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(a.ID), buf)
	n += ord.String.Marshal(a.URL, buf[n:])
	n += ord.String.Marshal(a.Title, buf[n:])
	n += varint.Int64.Marshal(timeMicros(a.PublishedAt), buf[n:])
	n += ord.String.Marshal(a.RawText, buf[n:])
	varint.Int64.Marshal(timeMicros(a.FetchedAt), buf[n:])
	return buf
}

// UnmarshalArticle deserializes an Article from bytes.
func UnmarshalArticle(data []byte) (*core.Article, error) {
	d := &decoder{bs: data}
	a := &core.Article{
		ID:          core.ID(d.uint64()),
		URL:         d.string(),
		Title:       d.string(),
		PublishedAt: d.time(),
		RawText:     d.string(),
		FetchedAt:   d.time(),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// MarshalChunk serializes a Chunk, including its embedding, to bytes.
func MarshalChunk(c *core.Chunk) []byte {
	size := varint.Uint64.Size(uint64(c.ID)) +
		varint.Uint64.Size(uint64(c.ArticleID)) +
		ord.String.Size(c.Text) +
		varint.Int64.Size(int64(c.Position)) +
		vectorSize(c.Embedding)

	buf := make([]byte, size)
	n := varint.Uint64.Marshal(uint64(c.ID), buf)
	n += varint.Uint64.Marshal(uint64(c.ArticleID), buf[n:])
	n += ord.String.Marshal(c.Text, buf[n:])
	n += varint.Int64.Marshal(int64(c.Position), buf[n:])
	marshalVector(c.Embedding, buf[n:])
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	d := &decoder{bs: data}
	c := &core.Chunk{
		ID:        core.ID(d.uint64()),
		ArticleID: core.ID(d.uint64()),
		Text:      d.string(),
		Position:  int(d.int64()),
		Embedding: d.vector(),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return c, nil
}
