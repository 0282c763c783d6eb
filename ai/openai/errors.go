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


package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/newsrag/ai"
)

// authMarkers are substrings of provider error messages that identify rejected credentials.
var authMarkers = []string{
	"status code: 401",
	"status code: 403",
	"unauthorized",
	"invalid api key",
	"incorrect api key",
	"invalid_api_key",
	"authentication",
}

// classify maps a client error onto ai.ErrUnauthorized or ai.ErrUnavailable.
// Context errors pass through untouched so callers can tell cancellation apart.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ai.ErrUnauthorized) || errors.Is(err, ai.ErrUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ai.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("%w: %w", ai.ErrUnavailable, err)
}
