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


// Package session runs conversations.
//
// A Manager keeps an explicit registry of live sessions. Each turn appends
// the user message, retrieves passages, assembles a prompt and streams the
// generated answer back as a channel of events. One turn runs per session at
// a time; different sessions proceed in parallel.
package session
