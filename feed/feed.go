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


// Package feed fetches news items from an RSS 2.0 feed or a fixed list.
package feed

import (
	"context"
	"errors"

	"github.com/poiesic/newsrag/core"
)

// MinContentLength is the shortest item text, in runes, kept without
// fetching the linked article.
const MinContentLength = 100

var (
	// ErrFetchFailed indicates the feed document could not be retrieved.
	ErrFetchFailed = errors.New("feed fetch failed")

	// ErrMalformedFeed indicates the feed document could not be parsed.
	ErrMalformedFeed = errors.New("malformed feed")
)

// Source yields up to limit feed items. limit <= 0 means no limit.
type Source interface {
	Fetch(ctx context.Context, limit int) ([]core.FeedItem, error)
}

// Static is a Source serving a fixed list of items.
type Static struct {
	Items []core.FeedItem
	Err   error
}

var _ Source = (*Static)(nil)

func (s *Static) Fetch(ctx context.Context, limit int) ([]core.FeedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	items := s.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]core.FeedItem(nil), items...), nil
}
