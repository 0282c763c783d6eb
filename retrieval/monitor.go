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


package retrieval

import "github.com/poiesic/newsrag/index"

// Monitor provides hooks to observe a retrieval.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(query string)
	AfterEmbed(vector []float32)
	AfterQuery(hits []index.Hit)
	Duplicate(hit index.Hit)
	Finish(passages []Passage)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)           {}
func (n *noopMonitor) AfterEmbed(_ []float32)   {}
func (n *noopMonitor) AfterQuery(_ []index.Hit) {}
func (n *noopMonitor) Duplicate(_ index.Hit)    {}
func (n *noopMonitor) Finish(_ []Passage)       {}
