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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pinger is implemented by remote indexes that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Failover serves from a primary Index while it works and from an in-memory
// mirror once it fails. Every write is applied to the mirror first, so the
// mirror always holds the full entry set.
type Failover struct {
	primary  Index
	mirror   *Memory
	degraded atomic.Bool
	logger   *slog.Logger

	// serializes writes with Probe's copy of the mirror to the primary
	writeMu sync.Mutex
}

var _ Index = (*Failover)(nil)

// NewFailover wraps primary. A nil primary starts degraded.
func NewFailover(primary Index, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Failover{
		primary: primary,
		mirror:  NewMemory(),
		logger:  logger.With("component", "index"),
	}
	if primary == nil {
		f.degraded.Store(true)
	}
	return f
}

// Degraded reports whether queries are served from the in-memory mirror.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) fail(ctx context.Context, op string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("primary index failed, serving from memory", "op", op, "err", err)
	}
	return true
}

func (f *Failover) write(ctx context.Context, op string, mirrorFn, primaryFn func() error) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := mirrorFn(); err != nil {
		return err
	}
	if f.Degraded() {
		return nil
	}
	if err := primaryFn(); err != nil && !f.fail(ctx, op, err) {
		return err
	}
	return nil
}

func (f *Failover) Upsert(ctx context.Context, entries ...Entry) error {
	return f.write(ctx, "upsert",
		func() error { return f.mirror.Upsert(ctx, entries...) },
		func() error { return f.primary.Upsert(ctx, entries...) })
}

func (f *Failover) Replace(ctx context.Context, entries []Entry) error {
	return f.write(ctx, "replace",
		func() error { return f.mirror.Replace(ctx, entries) },
		func() error { return f.primary.Replace(ctx, entries) })
}

func (f *Failover) Clear(ctx context.Context) error {
	return f.write(ctx, "clear",
		func() error { return f.mirror.Clear(ctx) },
		func() error { return f.primary.Clear(ctx) })
}

func (f *Failover) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if !f.Degraded() {
		hits, err := f.primary.Query(ctx, vector, k)
		if err == nil {
			return hits, nil
		}
		if !f.fail(ctx, "query", err) {
			return nil, err
		}
	}
	return f.mirror.Query(ctx, vector, k)
}

func (f *Failover) Count(ctx context.Context) (int, error) {
	return f.mirror.Count(ctx)
}

// Probe re-checks a degraded primary. When it answers again the mirror's
// contents are written to it and queries move back to the primary.
func (f *Failover) Probe(ctx context.Context) error {
	if f.primary == nil || !f.Degraded() {
		return nil
	}
	if p, ok := f.primary.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if !f.Degraded() {
		return nil
	}
	if err := f.primary.Replace(ctx, f.mirror.Entries()); err != nil {
		return err
	}
	f.degraded.Store(false)
	f.logger.Info("primary index recovered")
	return nil
}
