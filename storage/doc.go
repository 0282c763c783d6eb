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


// Package storage defines the persistence contracts of newsrag.
//
// # Stores
//
//   - HistoryStore: per-session message history (storage/redis, storage/memory)
//   - ContentStore: the current article and chunk set (storage/badger)
//   - EmbeddingCache: content hash to vector (storage/badger, storage/memory)
//
// FailoverHistory combines a remote HistoryStore with an in-memory one. It
// switches to memory when the remote store is unreachable and reports the
// switch through Degraded, so no write is lost silently.
//
// Values written to badger use the compact binary codec in serialization.go.
package storage
