package mock

import (
	"context"
	"sync"
	"time"

	"github.com/poiesic/newsrag/ai"
)

// MockGenerator is a test double for ai.Generator that streams scripted tokens.
type MockGenerator struct {
	// GenerateFunc replaces the default behavior when set.
	GenerateFunc func(ctx context.Context, messages []ai.ChatMessage) (*ai.Stream, error)

	// Tokens are streamed in order by the default behavior.
	Tokens []string

	// Delay is slept before each token, honoring cancellation.
	Delay time.Duration

	// Err, when set, ends the stream with an error after all tokens.
	Err error

	mu        sync.Mutex
	callCount int
	requests  [][]ai.ChatMessage
	canceled  int
}

// NewMockGenerator creates a generator streaming tokens.
func NewMockGenerator(tokens ...string) *MockGenerator {
	return &MockGenerator{Tokens: tokens}
}

// Generate streams the scripted tokens.
func (m *MockGenerator) Generate(ctx context.Context, messages []ai.ChatMessage) (*ai.Stream, error) {
	m.mu.Lock()
	m.callCount++
	m.requests = append(m.requests, append([]ai.ChatMessage(nil), messages...))
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, messages)
	}

	tokens := append([]string(nil), m.Tokens...)
	return ai.NewStream(ctx, func(ctx context.Context, emit ai.EmitFunc) error {
		for _, tok := range tokens {
			if m.Delay > 0 {
				timer := time.NewTimer(m.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					m.markCanceled()
					return ctx.Err()
				case <-timer.C:
				}
			}
			if err := emit(tok); err != nil {
				m.markCanceled()
				return err
			}
		}
		return m.Err
	}), nil
}

func (m *MockGenerator) markCanceled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled++
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Canceled returns how many streams stopped because of cancellation.
func (m *MockGenerator) Canceled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}

// LastRequest returns the messages of the most recent Generate call.
func (m *MockGenerator) LastRequest() []ai.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
