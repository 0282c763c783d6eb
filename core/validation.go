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


package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxInputLength is the default upper bound, in runes, for a user message.
const DefaultMaxInputLength = 4000

// futureSkew tolerates small clock differences between feed publishers and us.
const futureSkew = 24 * time.Hour

// ValidateArticle validates an Article according to domain rules.
//
// Validation rules:
//   - URL must not be empty
//   - RawText must not be blank
//   - PublishedAt must not be more than a day in the future
func ValidateArticle(article *Article) error {
	if article == nil {
		return fmt.Errorf("%w: article is nil", ErrInvalidArticle)
	}
	if strings.TrimSpace(article.URL) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrMissingURL)
	}
	if strings.TrimSpace(article.RawText) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrEmptyContent)
	}
	if article.PublishedAt.After(time.Now().Add(futureSkew)) {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrInvalidTimestamp)
	}
	return nil
}

// ValidateMessage validates a Message before it is appended to history.
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}
	if msg.SessionID == "" {
		return fmt.Errorf("%w: session id is empty", ErrInvalidMessage)
	}
	if err := ValidateRole(msg.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	// Assistant messages may legitimately be empty when a model returns nothing.
	if msg.Role != RoleAssistant && msg.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrEmptyContent)
	}
	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// ValidateUserInput rejects blank input and input longer than maxRunes.
// A maxRunes of zero or less uses DefaultMaxInputLength.
func ValidateUserInput(text string, maxRunes int) error {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxInputLength
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	if n := utf8.RuneCountInString(text); n > maxRunes {
		return fmt.Errorf("%w: %d runes exceeds limit of %d", ErrContentTooLong, n, maxRunes)
	}
	return nil
}
