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


package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/metrics"
	"github.com/poiesic/newsrag/prompt"
	"github.com/poiesic/newsrag/retrieval"
	"github.com/poiesic/newsrag/storage"
)

const (
	// maxIDAttempts bounds id generation on registry collisions.
	maxIDAttempts = 3

	// StatusProcessing is the content of the first status event of every turn.
	StatusProcessing = "processing"

	eventBuffer = 16
)

// EventType tags an Event.
type EventType string

const (
	EventStatus EventType = "status"
	EventStream EventType = "stream"
	EventError  EventType = "error"
	EventEnd    EventType = "end"
)

// Event is one message of a turn's output.
type Event struct {
	Type    EventType        `json:"type"`
	Content string           `json:"content"`
	Sources []core.SourceRef `json:"sources,omitempty"`
}

// Retriever finds passages for a question. *retrieval.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Passage, error)
}

// Status is a snapshot of the manager and its dependencies.
type Status struct {
	ActiveSessions int             `json:"active_sessions"`
	Degraded       map[string]bool `json:"degraded"`
}

type entry struct {
	mu      sync.Mutex
	session core.Session
	busy    atomic.Bool

	// set while a turn runs; done closes after the turn's last write
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the running turn, if any, and waits for it to finish.
func (e *entry) stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) state() core.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

func (e *entry) setState(s core.SessionState) {
	e.mu.Lock()
	e.session.State = s
	e.mu.Unlock()
}

// Manager owns the session registry and runs turns.
type Manager struct {
	history   storage.HistoryStore
	retriever Retriever
	generator ai.Generator
	metrics   *metrics.Metrics
	logger    *slog.Logger

	topK         int
	maxInput     int
	systemPrompt string
	budget       int
	maxHistory   int
	dependencies map[string]func() bool
	newID        func() string
	now          func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager) error

// WithTopK sets the number of passages retrieved per turn.
func WithTopK(k int) Option {
	return func(m *Manager) error {
		if k < 1 {
			return fmt.Errorf("top k must be at least 1, got %d", k)
		}
		m.topK = k
		return nil
	}
}

// WithMaxInputLength sets the maximum user message length in runes.
func WithMaxInputLength(n int) Option {
	return func(m *Manager) error {
		m.maxInput = n
		return nil
	}
}

// WithPrompt sets the system prompt, the prompt budget in runes and the
// number of history messages carried into each prompt. Zero values keep
// the prompt package defaults.
func WithPrompt(systemPrompt string, budget, maxHistory int) Option {
	return func(m *Manager) error {
		m.systemPrompt = systemPrompt
		m.budget = budget
		m.maxHistory = maxHistory
		return nil
	}
}

// WithDependency registers a dependency whose degraded state is reported in
// Status and announced at the start of each turn.
func WithDependency(name string, degraded func() bool) Option {
	return func(m *Manager) error {
		if degraded == nil {
			return fmt.Errorf("dependency %q has no status func", name)
		}
		m.dependencies[name] = degraded
		return nil
	}
}

// WithMetrics records turn outcomes, streamed tokens and the session count.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) error {
		m.metrics = mx
		return nil
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) error {
		if fn == nil {
			return errors.New("id generator cannot be nil")
		}
		m.newID = fn
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger.With("component", "session")
		return nil
	}
}

// NewManager creates a session manager.
func NewManager(history storage.HistoryStore, retriever Retriever, generator ai.Generator, opts ...Option) (*Manager, error) {
	if history == nil {
		return nil, ErrHistoryRequired
	}
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	m := &Manager{
		history:      history,
		retriever:    retriever,
		generator:    generator,
		logger:       slog.Default().With("component", "session"),
		topK:         retrieval.DefaultTopK,
		maxInput:     core.DefaultMaxInputLength,
		dependencies: make(map[string]func() bool),
		newID:        uuid.NewString,
		now:          time.Now,
		sessions:     make(map[string]*entry),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Create registers a new session in the Created state.
func (m *Manager) Create(ctx context.Context) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for range maxIDAttempts {
		id := m.newID()
		m.mu.Lock()
		if _, exists := m.sessions[id]; exists {
			m.mu.Unlock()
			m.logger.Warn("session id collision", "session", id)
			continue
		}
		e := &entry{session: core.Session{ID: id, CreatedAt: m.now().UTC(), State: core.SessionCreated}}
		m.sessions[id] = e
		n := len(m.sessions)
		m.mu.Unlock()

		m.metrics.SetActiveSessions(n)
		m.logger.Info("session created", "session", id)
		s := e.session
		return &s, nil
	}
	return nil, ErrIDCollision
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// remove closes the session and drops it from the registry.
func (m *Manager) remove(e *entry) {
	e.setState(core.SessionClosed)
	m.mu.Lock()
	if m.sessions[e.session.ID] == e {
		delete(m.sessions, e.session.ID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(n)
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (core.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return core.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// Activate moves a Created session to Active. Activating an Active session is a no-op.
func (m *Manager) Activate(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.session.State {
	case core.SessionCreated:
		e.session.State = core.SessionActive
	case core.SessionClosed:
		return fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	return nil
}

// History returns the session's messages in chronological order.
func (m *Manager) History(ctx context.Context, id string) ([]core.Message, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.history.List(ctx, id)
}

// Delete closes the session, cancels a running turn and waits for it, then
// clears the session's history.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.remove(e)
	if err := e.stop(ctx); err != nil {
		return err
	}
	if err := m.history.Clear(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session deleted", "session", id)
	return nil
}

// Status reports the active session count and each dependency's degraded state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	degraded := make(map[string]bool, len(m.dependencies))
	for name, fn := range m.dependencies {
		degraded[name] = fn()
	}
	return Status{ActiveSessions: n, Degraded: degraded}
}

func (m *Manager) degradedDependencies() []string {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(m.dependencies)) {
		if m.dependencies[name]() {
			names = append(names, name)
		}
	}
	return names
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := slices.Collect(maps.Values(m.sessions))
	clear(m.sessions)
	m.mu.Unlock()
	for _, e := range entries {
		e.setState(core.SessionClosed)
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.mu.Unlock()
	}
	m.metrics.SetActiveSessions(0)
}

// Turn validates text and starts a turn. The returned channel delivers
// status, stream, and finally one end or error event, then closes.
//
// Canceling ctx aborts generation, discards the partial answer and closes
// the session. The channel must be drained until closed or ctx canceled.
func (m *Manager) Turn(ctx context.Context, id string, text string, clientTime time.Time) (<-chan Event, error) {
	if err := core.ValidateUserInput(text, m.maxInput); err != nil {
		m.metrics.TurnFinished(metrics.OutcomeRejected)
		return nil, err
	}
	e, err := m.lookup(id)
	if err != nil {
		m.metrics.TurnFinished(metrics.OutcomeRejected)
		return nil, err
	}
	if err := m.Activate(id); err != nil {
		m.metrics.TurnFinished(metrics.OutcomeRejected)
		return nil, err
	}
	if !e.busy.CompareAndSwap(false, true) {
		m.metrics.TurnFinished(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", ErrTurnInFlight, id)
	}

	// registered under the entry lock so a concurrent Delete either sees
	// the turn and waits for it, or the turn sees the closed session
	e.mu.Lock()
	if e.session.State == core.SessionClosed {
		e.mu.Unlock()
		e.busy.Store(false)
		m.metrics.TurnFinished(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.mu.Unlock()

	timestamp := clientTime
	if timestamp.IsZero() {
		timestamp = m.now()
	}
	events := make(chan Event, eventBuffer)
	go m.run(ctx, e, text, timestamp.UTC(), events)
	return events, nil
}

// turn carries the state of one running turn.
type turn struct {
	ctx    context.Context
	events chan<- Event
}

func (t *turn) send(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (m *Manager) run(ctx context.Context, e *entry, text string, timestamp time.Time, events chan<- Event) {
	defer close(events)
	defer func() {
		e.mu.Lock()
		e.cancel()
		close(e.done)
		e.cancel, e.done = nil, nil
		e.mu.Unlock()
		e.busy.Store(false)
	}()

	id := e.session.ID
	logger := m.logger.With("session", id)
	t := &turn{ctx: ctx, events: events}
	outcome := metrics.OutcomeFailed
	defer func() {
		m.metrics.TurnFinished(outcome)
		if outcome == metrics.OutcomeCanceled {
			m.remove(e)
			logger.Info("turn canceled, session closed")
		}
	}()

	fail := func(msg string, err error) {
		logger.Error(msg, "err", err)
		if ctx.Err() != nil {
			outcome = metrics.OutcomeCanceled
			return
		}
		t.send(Event{Type: EventError, Content: "Error generating response: " + msg})
	}

	if !t.send(Event{Type: EventStatus, Content: StatusProcessing}) {
		outcome = metrics.OutcomeCanceled
		return
	}
	if degraded := m.degradedDependencies(); len(degraded) > 0 {
		if !t.send(Event{Type: EventStatus, Content: "degraded: " + strings.Join(degraded, ", ")}) {
			outcome = metrics.OutcomeCanceled
			return
		}
	}

	// Prior history is read before the question is appended so it is not repeated.
	prior, err := m.history.List(ctx, id)
	if err != nil {
		fail("failed to load history", err)
		return
	}
	userMsg := core.Message{SessionID: id, Role: core.RoleUser, Content: text, Timestamp: timestamp}
	if err := m.history.Append(ctx, id, userMsg); err != nil {
		fail("failed to store message", err)
		return
	}

	passages, err := m.retriever.Retrieve(ctx, text, m.topK)
	if err != nil {
		fail("failed to retrieve articles", err)
		return
	}

	req, err := prompt.Assemble(prompt.Input{
		SystemPrompt: m.systemPrompt,
		Passages:     passages,
		History:      prior,
		Question:     text,
		Budget:       m.budget,
		MaxHistory:   m.maxHistory,
	})
	if err != nil {
		fail("failed to assemble prompt", err)
		return
	}
	if req.DroppedHistory > 0 || req.DroppedPassages > 0 {
		logger.Debug("prompt truncated", "history", req.DroppedHistory, "passages", req.DroppedPassages)
	}

	stream, err := m.generator.Generate(ctx, req.Messages)
	if err != nil {
		fail("failed to start generation", err)
		return
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		ev, err := stream.Next(ctx)
		if err == io.EOF {
			fail("generation stream ended early", ai.ErrStreamClosed)
			return
		}
		if err != nil {
			outcome = metrics.OutcomeCanceled
			return
		}
		switch ev.Kind {
		case ai.EventToken:
			answer.WriteString(ev.Text)
			m.metrics.TokenStreamed()
			if !t.send(Event{Type: EventStream, Content: ev.Text}) {
				outcome = metrics.OutcomeCanceled
				return
			}
		case ai.EventError:
			fail("generation failed", ev.Err)
			return
		case ai.EventEnd:
			assistant := core.Message{
				SessionID: id,
				Role:      core.RoleAssistant,
				Content:   answer.String(),
				Timestamp: m.now().UTC(),
				Sources:   req.Sources,
			}
			if err := m.history.Append(ctx, id, assistant); err != nil {
				fail("failed to store answer", err)
				return
			}
			if !t.send(Event{Type: EventEnd, Sources: req.Sources}) {
				outcome = metrics.OutcomeCanceled
				return
			}
			outcome = metrics.OutcomeCompleted
			logger.Info("turn completed", "sources", len(req.Sources), "bytes", answer.Len())
			return
		}
	}
}
