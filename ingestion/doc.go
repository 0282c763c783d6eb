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


// Package ingestion turns feed items into indexed, embedded chunks.
//
// A Pipeline refresh fetches items from a feed source, validates and
// deduplicates them into articles, chunks their text, and embeds the chunks
// concurrently on a worker pool. The surviving articles and chunks replace the
// content store and the vector index as a whole. A failed or empty fetch
// leaves the previous set in place.
//
// Scheduler runs refreshes on a cron schedule.
package ingestion
