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


// Package redis stores session history in Redis lists.
//
// Each session's messages are JSON documents appended to the list
// chat:history:{session id}. The key's expiry is refreshed on every append.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

const (
	keyPrefix  = "chat:history:"
	DefaultTTL = 24 * time.Hour
)

// History is a RemoteHistoryStore backed by Redis.
type History struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ storage.RemoteHistoryStore = (*History)(nil)

// Option configures a History.
type Option func(*History) error

// WithTTL sets the expiry applied to a session's history on every append.
func WithTTL(ttl time.Duration) Option {
	return func(h *History) error {
		if ttl <= 0 {
			return fmt.Errorf("ttl must be positive, got %s", ttl)
		}
		h.ttl = ttl
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *History) error {
		if logger == nil {
			logger = slog.Default()
		}
		h.logger = logger.With("component", "redis-history")
		return nil
	}
}

// NewHistory creates a store talking to the Redis server at addr.
// The connection is established lazily; call Ping to check reachability.
func NewHistory(addr, password string, db int, opts ...Option) (*History, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewHistoryWithClient(client, opts...)
}

// NewHistoryWithClient wraps an existing client. Close closes the client.
func NewHistoryWithClient(client *goredis.Client, opts ...Option) (*History, error) {
	h := &History{
		client: client,
		ttl:    DefaultTTL,
		logger: slog.Default().With("component", "redis-history"),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func historyKey(sessionID string) string {
	return keyPrefix + sessionID
}

func (h *History) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *History) Append(ctx context.Context, sessionID string, msg core.Message) error {
	if sessionID == "" {
		return storage.ErrInvalidQuery
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	key := historyKey(sessionID)
	_, err = h.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		h.logger.Debug("append failed", "session", sessionID, "err", err)
	}
	return err
}

func (h *History) List(ctx context.Context, sessionID string) ([]core.Message, error) {
	if sessionID == "" {
		return nil, storage.ErrInvalidQuery
	}
	raw, err := h.client.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]core.Message, 0, len(raw))
	for _, item := range raw {
		var m core.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (h *History) Clear(ctx context.Context, sessionID string) error {
	return h.client.Del(ctx, historyKey(sessionID)).Err()
}

func (h *History) Close() error {
	return h.client.Close()
}
