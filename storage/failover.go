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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/poiesic/newsrag/core"
)

// FailoverHistory serves history from a remote store while it is reachable
// and from an in-memory store otherwise.
//
// The decision is made once at construction and re-made only by Reconnect.
// A connection failure at call time switches the handle to the fallback
// until the next successful Reconnect. Reconnect copies what the fallback
// received in the meantime to the remote store, and replays clears made
// during the outage, before the remote store serves again.
type FailoverHistory struct {
	primary  RemoteHistoryStore
	fallback HistoryStore
	logger   *slog.Logger

	// held for reading by every operation and for writing by Reconnect
	mu       sync.RWMutex
	degraded bool

	pendMu  sync.Mutex
	pending map[string]*pendingSession
}

// pendingSession tracks fallback writes not yet on the remote store.
type pendingSession struct {
	cleared bool // the remote copy must be cleared first
	copied  int  // fallback messages already appended to the remote store
}

var _ HistoryStore = (*FailoverHistory)(nil)

// NewFailoverHistory pings primary and selects the active store.
// A nil primary starts directly on the fallback.
func NewFailoverHistory(ctx context.Context, primary RemoteHistoryStore, fallback HistoryStore, logger *slog.Logger) *FailoverHistory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FailoverHistory{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "history"),
		pending:  map[string]*pendingSession{},
	}
	if primary == nil {
		f.logger.Warn("no remote history store configured, using in-memory history")
		f.degraded = true
		return f
	}
	if err := primary.Ping(ctx); err != nil {
		f.logger.Warn("remote history store unreachable, using in-memory history", "err", err)
		f.degraded = true
	}
	return f
}

// Degraded reports whether the in-memory fallback is active.
func (f *FailoverHistory) Degraded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.degraded
}

// Pending returns the number of sessions whose fallback history has not
// reached the remote store yet.
func (f *FailoverHistory) Pending() int {
	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	return len(f.pending)
}

// Reconnect re-checks the remote store and switches back to it when reachable
// and every pending session has been copied to it.
func (f *FailoverHistory) Reconnect(ctx context.Context) error {
	if f.primary == nil {
		return ErrStorageClosed
	}
	if err := f.primary.Ping(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		return nil
	}
	if err := f.restore(ctx); err != nil {
		return err
	}
	f.degraded = false
	f.logger.Info("remote history store reachable again")
	return nil
}

// restore copies pending sessions to the remote store. Progress is kept per
// session, so a retry after a failure does not append a message twice.
func (f *FailoverHistory) restore(ctx context.Context) error {
	f.pendMu.Lock()
	ids := slices.Sorted(maps.Keys(f.pending))
	f.pendMu.Unlock()

	for _, id := range ids {
		f.pendMu.Lock()
		p := f.pending[id]
		f.pendMu.Unlock()

		if p.cleared {
			if err := f.primary.Clear(ctx, id); err != nil {
				return fmt.Errorf("clearing remote history of session %s: %w", id, err)
			}
			p.cleared = false
		}
		msgs, err := f.fallback.List(ctx, id)
		if err != nil {
			return err
		}
		for _, msg := range msgs[min(p.copied, len(msgs)):] {
			if err := f.primary.Append(ctx, id, msg); err != nil {
				return fmt.Errorf("copying history of session %s: %w", id, err)
			}
			p.copied++
		}
		if err := f.fallback.Clear(ctx, id); err != nil {
			return err
		}

		f.pendMu.Lock()
		delete(f.pending, id)
		f.pendMu.Unlock()
	}
	if len(ids) > 0 {
		f.logger.Info("copied in-memory history to remote store", "sessions", len(ids))
	}
	return nil
}

func (f *FailoverHistory) markPending(sessionID string, cleared bool) {
	if f.primary == nil {
		return
	}
	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	p, ok := f.pending[sessionID]
	if !ok {
		p = &pendingSession{}
		f.pending[sessionID] = p
	}
	if cleared {
		p.cleared = true
		p.copied = 0
	}
}

func (f *FailoverHistory) forget(sessionID string) {
	f.pendMu.Lock()
	delete(f.pending, sessionID)
	f.pendMu.Unlock()
}

// activeLocked must be called with mu held.
func (f *FailoverHistory) activeLocked() (HistoryStore, bool) {
	if f.degraded {
		return f.fallback, false
	}
	return f.primary, true
}

func (f *FailoverHistory) degrade(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		f.logger.Warn("remote history store failed, switching to in-memory history", "err", err)
	}
	f.degraded = true
}

// isOutage reports whether err from the remote store means it is unusable,
// as opposed to a bad request or a caller that gave up.
func isOutage(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrSerializationFailed) && !errors.Is(err, ErrInvalidQuery)
}

// do runs op on the active store. op reports back through remote whether it
// ran on the remote store.
func (f *FailoverHistory) do(ctx context.Context, op func(s HistoryStore, remote bool) error) error {
	f.mu.RLock()
	store, remote := f.activeLocked()
	err := op(store, remote)
	f.mu.RUnlock()
	if !remote || !isOutage(ctx, err) {
		return err
	}

	f.degrade(err)
	f.mu.RLock()
	defer f.mu.RUnlock()
	store, remote = f.activeLocked()
	return op(store, remote)
}

// Append adds a message to the session's history.
func (f *FailoverHistory) Append(ctx context.Context, sessionID string, msg core.Message) error {
	return f.do(ctx, func(s HistoryStore, remote bool) error {
		if err := s.Append(ctx, sessionID, msg); err != nil {
			return err
		}
		if !remote {
			f.markPending(sessionID, false)
		}
		return nil
	})
}

// List returns the session's messages in order.
func (f *FailoverHistory) List(ctx context.Context, sessionID string) ([]core.Message, error) {
	var msgs []core.Message
	err := f.do(ctx, func(s HistoryStore, _ bool) error {
		var err error
		msgs, err = s.List(ctx, sessionID)
		return err
	})
	return msgs, err
}

// Clear removes the session's history from the active store.
// The fallback is cleared as well so no stale in-memory copy survives. A
// clear while degraded is replayed on the remote store by Reconnect.
func (f *FailoverHistory) Clear(ctx context.Context, sessionID string) error {
	return f.do(ctx, func(s HistoryStore, remote bool) error {
		if err := s.Clear(ctx, sessionID); err != nil {
			return err
		}
		if !remote {
			f.markPending(sessionID, true)
			return nil
		}
		f.forget(sessionID)
		return f.fallback.Clear(ctx, sessionID)
	})
}

// Close closes both stores.
func (f *FailoverHistory) Close() error {
	var errs []error
	if f.primary != nil {
		errs = append(errs, f.primary.Close())
	}
	errs = append(errs, f.fallback.Close())
	return errors.Join(errs...)
}
