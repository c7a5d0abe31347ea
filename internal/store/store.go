// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/relaychat/internal/domain"
)

// Repository defines the interface for persisting conversations and client settings.
type Repository interface {
	// CreateConversation inserts a new conversation holding a single first message
	// and returns its assigned ID.
	CreateConversation(ctx context.Context, title string, first domain.Message) (int64, error)

	// AppendMessage appends a message to an existing conversation.
	AppendMessage(ctx context.Context, id int64, msg domain.Message) error

	// UpdateMetadata stores the latest response handle for a conversation.
	// A nil vectorStoreID leaves the stored document index untouched.
	UpdateMetadata(ctx context.Context, id int64, responseID *string, vectorStoreID *string) error

	// ClearDocumentIndex removes the document index handle from a conversation.
	ClearDocumentIndex(ctx context.Context, id int64) error

	// GetConversation retrieves a conversation by ID. It returns nil, nil when
	// the conversation does not exist.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// ListConversations returns all conversations, most recently updated first.
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)

	// GetSetting returns a client setting and whether it was set.
	GetSetting(ctx context.Context, key string) (string, bool, error)

	// SetSetting creates or replaces a client setting.
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting removes a client setting.
	DeleteSetting(ctx context.Context, key string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// SettingAPIKey is the settings key holding the client credential.
const SettingAPIKey = "openai_api_key"
