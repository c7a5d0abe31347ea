package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/relaychat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateConversationAssignsUniqueIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateConversation(ctx, "Hello", domain.NewMessage(domain.RoleUser, "Hello"))
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, "Again", domain.NewMessage(domain.RoleUser, "Again"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	conv, err := s.GetConversation(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Hello", conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Sender)
	assert.Nil(t, conv.ResponseID)
	assert.Nil(t, conv.VectorStoreID)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
}

func TestGetConversationMissingReturnsNil(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	conv, err := s.GetConversation(context.Background(), 4242)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateConversation(ctx, "q1", domain.NewMessage(domain.RoleUser, "q1"))
	require.NoError(t, err)

	before, err := s.GetConversation(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, id, domain.NewMessage(domain.RoleAssistant, "a1")))
	require.NoError(t, s.AppendMessage(ctx, id, domain.NewMessage(domain.RoleUser, "q2")))

	after, err := s.GetConversation(ctx, id)
	require.NoError(t, err)

	require.Len(t, after.Messages, 3)
	assert.Equal(t, before.Messages[0], after.Messages[0])
	assert.Equal(t, "a1", after.Messages[1].Text)
	assert.Equal(t, "q2", after.Messages[2].Text)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestAppendMessageMissingConversation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.AppendMessage(context.Background(), 99, domain.NewMessage(domain.RoleUser, "x"))
	assert.True(t, errors.Is(err, ErrConversationNotFound), "got %v", err)
}

func TestUpdateMetadataKeepsVectorStoreWhenNil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateConversation(ctx, "doc", domain.NewMessage(domain.RoleUser, "doc"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateMetadata(ctx, id, domain.StringPtr("resp_1"), domain.StringPtr("vs_1")))
	require.NoError(t, s.UpdateMetadata(ctx, id, domain.StringPtr("resp_2"), nil))

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "resp_2", domain.Deref(conv.ResponseID))
	assert.Equal(t, "vs_1", domain.Deref(conv.VectorStoreID))
}

func TestClearDocumentIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateConversation(ctx, "doc", domain.NewMessage(domain.RoleUser, "doc"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMetadata(ctx, id, domain.StringPtr("resp_1"), domain.StringPtr("vs_1")))
	require.NoError(t, s.ClearDocumentIndex(ctx, id))

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, conv.VectorStoreID)
	assert.Equal(t, "resp_1", domain.Deref(conv.ResponseID))

	assert.ErrorIs(t, s.ClearDocumentIndex(ctx, id+100), ErrConversationNotFound)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// A frozen clock forces every timestamp through the monotonic bump.
	frozen := time.Unix(1_700_000_000, 0)
	s := newTestStore(t, WithClock(func() time.Time { return frozen }))

	var ids []int64
	for _, title := range []string{"a", "b", "c", "d"} {
		id, err := s.CreateConversation(ctx, title, domain.NewMessage(domain.RoleUser, title))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Touch the oldest so it moves to the top.
	require.NoError(t, s.AppendMessage(ctx, ids[0], domain.NewMessage(domain.RoleAssistant, "reply")))

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 4)

	got := make([]string, 0, len(convs))
	for _, c := range convs {
		got = append(got, c.Title)
	}
	assert.Equal(t, []string{"a", "d", "c", "b"}, got)

	for i := 1; i < len(convs); i++ {
		assert.True(t, convs[i-1].UpdatedAt.After(convs[i].UpdatedAt))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetSetting(ctx, SettingAPIKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, SettingAPIKey, "sk-one"))
	require.NoError(t, s.SetSetting(ctx, SettingAPIKey, "sk-two"))

	value, ok, err := s.GetSetting(ctx, SettingAPIKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-two", value)

	require.NoError(t, s.DeleteSetting(ctx, SettingAPIKey))
	_, ok, err = s.GetSetting(ctx, SettingAPIKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
