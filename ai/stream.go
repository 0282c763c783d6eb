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


package ai

import (
	"context"
	"io"
	"strings"
	"sync"
)

// EventKind tags a TokenEvent.
type EventKind int

const (
	// EventToken carries an incremental piece of generated text.
	EventToken EventKind = iota + 1
	// EventEnd marks successful completion. No events follow it.
	EventEnd
	// EventError marks a terminal failure. No events follow it.
	EventError
)

// TokenEvent is one element of a generation stream.
type TokenEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Terminal reports whether the event ends the stream.
func (e TokenEvent) Terminal() bool {
	return e.Kind == EventEnd || e.Kind == EventError
}

// EmitFunc delivers one token to the stream consumer.
// It returns an error once the stream has been canceled; producers must stop then.
type EmitFunc func(text string) error

// ProduceFunc generates tokens by calling emit in generation order.
// A nil return ends the stream with EventEnd, an error ends it with EventError.
type ProduceFunc func(ctx context.Context, emit EmitFunc) error

// Stream is a lazy, finite, non-restartable sequence of token events.
// Exactly one terminal event is delivered unless the stream is canceled first.
type Stream struct {
	events    chan TokenEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream runs produce in its own goroutine and returns the stream of its tokens.
// Cancelling ctx or calling Close stops the producer.
func NewStream(ctx context.Context, produce ProduceFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan TokenEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, produce)
	return s
}

func (s *Stream) run(ctx context.Context, produce ProduceFunc) {
	defer close(s.done)
	defer close(s.events)

	emit := func(text string) error {
		if text == "" {
			return nil
		}
		select {
		case s.events <- TokenEvent{Kind: EventToken, Text: text}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	final := TokenEvent{Kind: EventEnd}
	if err := produce(ctx, emit); err != nil {
		final = TokenEvent{Kind: EventError, Err: err}
	}

	// A canceled stream has no consumer left to tell.
	if ctx.Err() != nil {
		return
	}
	select {
	case s.events <- final:
	case <-ctx.Done():
	}
}

// Events exposes the raw event channel. It is closed after the terminal event.
func (s *Stream) Events() <-chan TokenEvent {
	return s.events
}

// Next blocks until the next event is available.
// It returns io.EOF once the stream is exhausted and ctx.Err() if ctx is done first.
func (s *Stream) Next(ctx context.Context) (TokenEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return TokenEvent{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return TokenEvent{}, ctx.Err()
	}
}

// Close cancels the producer and waits for it to exit.
// It is safe to call more than once and after the stream has ended.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
		<-s.done
	})
}

// Collect drains the stream and returns the concatenated tokens.
// The stream is closed on return.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		ev, err := s.Next(ctx)
		if err == io.EOF {
			return b.String(), ErrStreamClosed
		}
		if err != nil {
			return b.String(), err
		}
		switch ev.Kind {
		case EventToken:
			b.WriteString(ev.Text)
		case EventEnd:
			return b.String(), nil
		case EventError:
			return b.String(), ev.Err
		}
	}
}
