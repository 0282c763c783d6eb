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


package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
)

// previewLength bounds how much of the prompt context is echoed back.
const previewLength = 200

// Generator answers every request with one canned informational message.
type Generator struct{}

var _ ai.Generator = (*Generator)(nil)

// NewGenerator creates the canned generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate emits a single message describing the retrieved context, then ends.
func (g *Generator) Generate(ctx context.Context, messages []ai.ChatMessage) (*ai.Stream, error) {
	text := cannedAnswer(messages)
	return ai.NewStream(ctx, func(ctx context.Context, emit ai.EmitFunc) error {
		return emit(text)
	}), nil
}

func cannedAnswer(messages []ai.ChatMessage) string {
	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			last = messages[i].Content
			break
		}
	}

	question := last
	passages := ""
	if _, rest, ok := strings.Cut(last, "Context: "); ok {
		passages, question, _ = strings.Cut(rest, "\n\nQuestion: ")
		question, _, _ = strings.Cut(question, "\n\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here's what I found about '%s':\n\n", strings.TrimSpace(question))
	if preview := []rune(strings.TrimSpace(passages)); len(preview) > 0 {
		if len(preview) > previewLength {
			preview = append(preview[:previewLength], []rune("...")...)
		}
		b.WriteString("Based on the news articles, ")
		b.WriteString(string(preview))
		b.WriteString("\n\n")
	}
	b.WriteString("Please note this is a simulated response because the language model is not configured.")
	return b.String()
}
