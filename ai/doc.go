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


// Package ai provides abstractions for the AI services newsrag depends on.
//
// This package defines interfaces for text embeddings and streamed answer
// generation, allowing retrieval and session logic to depend on abstractions
// rather than on a concrete provider.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Generator: Streams generated answer tokens as a Stream
//   - AIProvider: Aggregates the services and reports which run degraded
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//     (Jina embeddings, Groq chat completions, Ollama, vLLM, ...)
//   - ai/fallback: Deterministic stand-ins used when a provider is unavailable
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types to prevent accidental coupling to concrete implementations.
//
//	provider, err := openai.NewProvider(ctx, config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder, mock.NewMockGenerator)
// return CONCRETE types to enable assertions and behavior injection.
//
//	mockEmbed := mock.NewMockEmbedder(8)
//	count := mockEmbed.CallCount()
//
// # Streams
//
// A Stream is produced by a goroutine and consumed with Next or Events. It
// delivers tokens in generation order followed by exactly one EventEnd or
// EventError. Close cancels the producer and waits for it to exit.
//
//	stream, err := provider.Generator().Generate(ctx, messages)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    ev, err := stream.Next(ctx)
//	    ...
//	}
package ai
