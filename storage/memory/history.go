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

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
)

// History is a HistoryStore kept in process memory.
// Its contents do not survive a restart.
type History struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
	closed   bool
}

var _ storage.HistoryStore = (*History)(nil)

// NewHistory creates an empty in-memory history store.
func NewHistory() *History {
	return &History{sessions: make(map[string][]core.Message)}
}

func (h *History) Append(ctx context.Context, sessionID string, msg core.Message) error {
	if sessionID == "" {
		return storage.ErrInvalidQuery
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return storage.ErrStorageClosed
	}
	msg.Sources = slices.Clone(msg.Sources)
	h.sessions[sessionID] = append(h.sessions[sessionID], msg)
	return nil
}

func (h *History) List(ctx context.Context, sessionID string) ([]core.Message, error) {
	if sessionID == "" {
		return nil, storage.ErrInvalidQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, storage.ErrStorageClosed
	}
	msgs := h.sessions[sessionID]
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		m.Sources = slices.Clone(m.Sources)
		out[i] = m
	}
	return out, nil
}

func (h *History) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return storage.ErrStorageClosed
	}
	delete(h.sessions, sessionID)
	return nil
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.sessions = nil
	return nil
}
