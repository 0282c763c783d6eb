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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

const (
	DefaultSchedule      = "0 */4 * * *"
	DefaultCheckInterval = time.Hour
)

// Refresher runs one refresh. *Pipeline implements it.
type Refresher interface {
	Refresh(ctx context.Context, limit int) (Report, error)
}

// Scheduler triggers refreshes on a cron schedule. The schedule is checked
// on a ticker, so a refresh starts at the first check at or after its due time.
type Scheduler struct {
	refresher Refresher
	expr      *cronexpr.Expression
	interval  time.Duration
	limit     int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler) error

// WithCheckInterval sets how often the schedule is evaluated.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) error {
		if d <= 0 {
			return fmt.Errorf("check interval must be positive, got %s", d)
		}
		s.interval = d
		return nil
	}
}

// WithRefreshLimit sets the item limit passed to each scheduled refresh.
func WithRefreshLimit(n int) SchedulerOption {
	return func(s *Scheduler) error {
		s.limit = n
		return nil
	}
}

// WithSchedulerLogger sets the logger. Nil falls back to slog.Default().
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "scheduler")
		return nil
	}
}

// NewScheduler creates a scheduler running r on the cron expression spec.
// An empty spec uses DefaultSchedule.
func NewScheduler(r Refresher, spec string, opts ...SchedulerOption) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("refresher required")
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		refresher: r,
		expr:      expr,
		interval:  DefaultCheckInterval,
		limit:     DefaultRefreshLimit,
		logger:    slog.Default().With("component", "scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Next returns the first due time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t)
}

// Start begins checking the schedule in the background. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the scheduler and waits for an in-flight refresh to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	next := s.expr.Next(s.now())
	s.logger.Info("refresh scheduler started", "next", next)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := s.now()
		if now.Before(next) {
			continue
		}
		report, err := s.refresher.Refresh(ctx, s.limit)
		switch {
		case errors.Is(err, ErrRefreshInProgress):
			s.logger.Debug("scheduled refresh skipped, another refresh is running")
		case err != nil:
			s.logger.Error("scheduled refresh failed", "err", err)
		default:
			s.logger.Debug("scheduled refresh finished", "articles", report.Articles, "skipped", report.Skipped)
		}
		next = s.expr.Next(s.now())
	}
}
