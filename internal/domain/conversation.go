// Package domain contains core domain types for the relaychat client.
package domain

import (
	"time"
	"unicode/utf8"
)

// TitleMaxRunes is the number of runes kept from the first user message when
// deriving a conversation title.
const TitleMaxRunes = 40

// Conversation is a persisted chat thread.
type Conversation struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Messages      []Message `json:"messages"`
	ResponseID    *string   `json:"response_id,omitempty"`
	VectorStoreID *string   `json:"vector_store_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Title derives a conversation title from the first user message.
func Title(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxRunes]) + "..."
}

// NextUpdate returns the timestamp for the next mutation of a record last
// touched at prev. The result is always strictly after prev.
func NextUpdate(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
