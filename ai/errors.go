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

import "errors"

var (
	// ErrUnauthorized indicates the provider rejected or is missing credentials.
	// It is not worth retrying.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrUnavailable indicates a transient provider failure such as a network error.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrEmptyResponse indicates the provider answered without usable data.
	ErrEmptyResponse = errors.New("provider returned empty response")

	// ErrDimensionMismatch indicates a vector of unexpected size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrStreamClosed is reported by Stream.Next after the stream was closed.
	ErrStreamClosed = errors.New("stream closed")
)
