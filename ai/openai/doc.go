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


// Package openai provides AI service implementations using OpenAI-compatible APIs.
//
// This package implements the ai.AIProvider interface using the langchaingo
// library to communicate with OpenAI or OpenAI-compatible services (Jina
// embeddings, Groq chat completions, Ollama, vLLM).
//
// Services without credentials, or an embedding service that fails the
// startup probe, are replaced by their ai/fallback equivalents and reported
// through Provider.Status.
//
// # Usage
//
//	config := ai.NewConfig(
//	    ai.WithEmbeddingAPIKey(os.Getenv("JINA_API_KEY")),
//	    ai.WithChatAPIKey(os.Getenv("GROQ_API_KEY")),
//	)
//
//	provider, err := openai.NewProvider(ctx, config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "sample text")
//	stream, err := provider.Generator().Generate(ctx, messages)
package openai
