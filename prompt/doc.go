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


// Package prompt turns retrieved passages, recent history and a question
// into the message list sent to the generator.
//
// Assemble is pure: the same input always yields the same request. When the
// rendered messages exceed the budget, the oldest history goes first, then
// the lowest-scoring passages. The system prompt and the question are never cut.
package prompt
