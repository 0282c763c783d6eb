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


package embedding

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrEmptyText is returned for empty or whitespace-only input.
	ErrEmptyText = errors.New("text is empty")

	// ErrNoFallback is returned when a client is built without a fallback embedder.
	ErrNoFallback = errors.New("fallback embedder is required")

	// ErrNoPrimary is returned by Probe when there is no primary to switch back to.
	ErrNoPrimary = errors.New("no usable primary embedder")
)
