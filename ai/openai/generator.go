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


package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat completion APIs.
type Generator struct {
	client      llms.Model
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// newGenerator is an internal constructor that returns the concrete type.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	token := config.ChatAPIKey
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(token),
		openai.WithModel(config.ChatModel),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client:      client,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		logger:      slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new streaming generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate streams the completion for messages.
// Provider errors, including ones raised mid-stream, end the stream with an EventError.
func (g *Generator) Generate(ctx context.Context, messages []ai.ChatMessage) (*ai.Stream, error) {
	content := toMessageContent(messages)
	g.logger.Debug("starting generation", "messages", len(content))

	return ai.NewStream(ctx, func(ctx context.Context, emit ai.EmitFunc) error {
		_, err := g.client.GenerateContent(ctx, content,
			llms.WithTemperature(g.temperature),
			llms.WithMaxTokens(g.maxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				return emit(string(chunk))
			}),
		)
		if err != nil {
			if ctx.Err() == nil {
				g.logger.Error("generation failed", "err", err)
			}
			return classify(err)
		}
		return nil
	}), nil
}

func toMessageContent(messages []ai.ChatMessage) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.MessageContent{
			Role:  chatMessageType(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return content
}

func chatMessageType(role core.Role) llms.ChatMessageType {
	switch role {
	case core.RoleSystem:
		return llms.ChatMessageTypeSystem
	case core.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
