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


package session

import "errors"

var (
	// ErrSessionNotFound is returned for an id that is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("session closed")

	// ErrTurnInFlight is returned when a turn is started while another is streaming.
	ErrTurnInFlight = errors.New("turn already in progress")

	// ErrIDCollision is returned when no unique session id could be generated.
	ErrIDCollision = errors.New("could not allocate unique session id")

	// ErrHistoryRequired is returned when a history store is not provided.
	ErrHistoryRequired = errors.New("history store required")

	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")
)
