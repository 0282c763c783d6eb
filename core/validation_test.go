package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateArticle(t *testing.T) {
	valid := &Article{URL: "https://news.example/a", RawText: "body", PublishedAt: time.Now()}

	tests := []struct {
		name    string
		article *Article
		wantErr error
	}{
		{name: "valid", article: valid},
		{name: "nil", article: nil, wantErr: ErrInvalidArticle},
		{name: "missing url", article: &Article{RawText: "body"}, wantErr: ErrMissingURL},
		{name: "blank text", article: &Article{URL: "u", RawText: "  \n"}, wantErr: ErrEmptyContent},
		{
			name:    "far future",
			article: &Article{URL: "u", RawText: "body", PublishedAt: time.Now().Add(72 * time.Hour)},
			wantErr: ErrInvalidTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArticle(tt.article)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidArticle)
		})
	}
}

func TestValidateMessage(t *testing.T) {
	t.Run("valid user message", func(t *testing.T) {
		assert.NoError(t, ValidateMessage(&Message{SessionID: "s", Role: RoleUser, Content: "hi"}))
	})

	t.Run("empty assistant message allowed", func(t *testing.T) {
		assert.NoError(t, ValidateMessage(&Message{SessionID: "s", Role: RoleAssistant}))
	})

	t.Run("empty user message rejected", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMessage(&Message{SessionID: "s", Role: RoleUser}), ErrEmptyContent)
	})

	t.Run("unknown role", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMessage(&Message{SessionID: "s", Role: "bot", Content: "x"}), ErrInvalidRole)
	})

	t.Run("missing session", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMessage(&Message{Role: RoleUser, Content: "x"}), ErrInvalidMessage)
	})

	t.Run("nil", func(t *testing.T) {
		assert.ErrorIs(t, ValidateMessage(nil), ErrInvalidMessage)
	})
}

func TestValidateUserInput(t *testing.T) {
	assert.NoError(t, ValidateUserInput("What happened to markets on Monday?", 0))
	assert.ErrorIs(t, ValidateUserInput("", 0), ErrEmptyContent)
	assert.ErrorIs(t, ValidateUserInput(" \t\n", 0), ErrEmptyContent)
	assert.ErrorIs(t, ValidateUserInput(strings.Repeat("x", 11), 10), ErrContentTooLong)
	assert.NoError(t, ValidateUserInput(strings.Repeat("é", 10), 10), "limit counts runes, not bytes")
	assert.ErrorIs(t, ValidateUserInput(strings.Repeat("x", DefaultMaxInputLength+1), 0), ErrContentTooLong)
}
