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


package prompt

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retrieval"
)

const (
	// DefaultBudget is the default cap, in runes, over all message contents.
	DefaultBudget = 12000

	// DefaultMaxHistory is the default number of prior messages carried into a prompt.
	DefaultMaxHistory = 5

	// DefaultSystemPrompt instructs the model to stay within the supplied context.
	DefaultSystemPrompt = "You are a helpful news assistant that provides accurate information based on the provided context. " +
		"Only answer from the context provided, and if you don't know or can't find the answer in the context, say so."

	// NoContext replaces the context block when no passages were retrieved.
	NoContext = "No relevant articles found."

	passageSeparator = "\n\n---\n\n"
)

// Input is everything a prompt is built from.
type Input struct {
	// SystemPrompt defaults to DefaultSystemPrompt when empty.
	SystemPrompt string
	// Passages may arrive in any order.
	Passages []retrieval.Passage
	// History is chronological, oldest first. System messages are ignored.
	History []core.Message
	Question string
	// Budget defaults to DefaultBudget when zero or negative.
	Budget int
	// MaxHistory defaults to DefaultMaxHistory when zero. Negative disables history.
	MaxHistory int
}

// Request is an assembled prompt.
type Request struct {
	Messages []ai.ChatMessage
	// Sources are the articles of the surviving passages, deduplicated.
	Sources []core.SourceRef
	// Passages are the surviving passages, best first.
	Passages        []retrieval.Passage
	DroppedHistory  int
	DroppedPassages int
}

// Size returns the total number of runes over all message contents.
func (r Request) Size() int {
	n := 0
	for _, m := range r.Messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

// Assemble builds the request for in, truncating to fit the budget.
func Assemble(in Input) (Request, error) {
	if strings.TrimSpace(in.Question) == "" {
		return Request{}, ErrEmptyQuestion
	}
	system := in.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	budget := in.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	maxHistory := in.MaxHistory
	if maxHistory == 0 {
		maxHistory = DefaultMaxHistory
	}

	fixed := utf8.RuneCountInString(system)
	if bare := fixed + utf8.RuneCountInString(UserMessage(nil, in.Question)); bare > budget {
		return Request{}, fmt.Errorf("%w: system prompt and question need %d runes, budget is %d", ErrBudgetExceeded, bare, budget)
	}

	passages := slices.Clone(in.Passages)
	slices.SortStableFunc(passages, retrieval.ComparePassages)

	history := make([]core.Message, 0, len(in.History))
	for _, m := range in.History {
		if m.Role == core.RoleUser || m.Role == core.RoleAssistant {
			history = append(history, m)
		}
	}
	dropped := len(in.History) - len(history)
	if maxHistory < 0 {
		maxHistory = 0
	}
	if len(history) > maxHistory {
		dropped += len(history) - maxHistory
		history = history[len(history)-maxHistory:]
	}

	historySize := 0
	for _, m := range history {
		historySize += utf8.RuneCountInString(m.Content)
	}
	total := func() int {
		return fixed + historySize + utf8.RuneCountInString(UserMessage(passages, in.Question))
	}

	for len(history) > 0 && total() > budget {
		historySize -= utf8.RuneCountInString(history[0].Content)
		history = history[1:]
		dropped++
	}
	droppedPassages := 0
	for len(passages) > 0 && total() > budget {
		passages = passages[:len(passages)-1]
		droppedPassages++
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: core.RoleSystem, Content: system})
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: core.RoleUser, Content: UserMessage(passages, in.Question)})

	refs := make([]core.SourceRef, 0, len(passages))
	for _, p := range passages {
		refs = append(refs, p.Source)
	}

	return Request{
		Messages:        messages,
		Sources:         core.DedupeSources(refs),
		Passages:        passages,
		DroppedHistory:  dropped,
		DroppedPassages: droppedPassages,
	}, nil
}

// RenderContext renders passages as the context block, in the given order.
func RenderContext(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return NoContext
	}
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Text + "\nFrom: " + p.Source.Title
	}
	return strings.Join(parts, passageSeparator)
}

// UserMessage renders the final user turn.
func UserMessage(passages []retrieval.Passage, question string) string {
	return "Context: " + RenderContext(passages) +
		"\n\nQuestion: " + question +
		"\n\nPlease answer the question based on the context provided."
}

