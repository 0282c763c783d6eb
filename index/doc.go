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


// Package index holds chunk vectors and answers nearest-neighbour queries.
//
// Index is implemented in process by Memory, remotely by index/qdrant, and by
// Failover, which keeps a Memory mirror of a remote index and serves from it
// while the remote is failing. Every implementation orders hits with Rank so
// results are identical regardless of backend.
package index
