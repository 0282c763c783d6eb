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

import (
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Segment is one window of a chunked document.
type Segment struct {
	Position int
	Text     string
}

// Chunk splits text into windows of size runes, each starting size-overlap
// runes after the previous one. Concatenating the first segment with every
// later segment minus its leading overlap runes reproduces text exactly.
//
// Empty or whitespace-only text yields no segments.
func Chunk(text string, size, overlap int) ([]Segment, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkParams, size, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := size - overlap
	var segments []Segment
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		segments = append(segments, Segment{
			Position: len(segments),
			Text:     string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return segments, nil
}
