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

import "errors"

var (
	// ErrInvalidChunkParams is returned for a chunk size <= 0, a negative
	// overlap, or an overlap not smaller than the size.
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")

	// ErrRefreshInProgress is returned when a refresh is requested while another one runs.
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrSourceRequired is returned when a feed source is not provided.
	ErrSourceRequired = errors.New("feed source required")

	// ErrContentStoreRequired is returned when a content store is not provided.
	ErrContentStoreRequired = errors.New("content store required")

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrEmbedderRequired is returned when an embedding client is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)
