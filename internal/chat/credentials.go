package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/relaychat/internal/store"
)

// Credentials reports the locally configured API key. The key only gates
// sending; the proxy holds the key that is actually used upstream.
type Credentials interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticCredentials is a fixed key, mostly useful in tests.
type StaticCredentials string

// APIKey returns the key.
func (s StaticCredentials) APIKey(context.Context) (string, error) {
	return string(s), nil
}

// SettingsCredentials keeps the key in the store's settings table.
type SettingsCredentials struct {
	repo store.Repository
}

// NewSettingsCredentials creates a settings-backed credential provider.
func NewSettingsCredentials(repo store.Repository) *SettingsCredentials {
	return &SettingsCredentials{repo: repo}
}

// APIKey returns the saved key, or "" when none is set.
func (c *SettingsCredentials) APIKey(ctx context.Context) (string, error) {
	key, _, err := c.repo.GetSetting(ctx, store.SettingAPIKey)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return key, nil
}

// SetAPIKey saves key. A blank key removes the saved one.
func (c *SettingsCredentials) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		if err := c.repo.DeleteSetting(ctx, store.SettingAPIKey); err != nil {
			return fmt.Errorf("clear api key: %w", err)
		}
		return nil
	}
	if err := c.repo.SetSetting(ctx, store.SettingAPIKey, key); err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}
