package storage

import (
	"fmt"
	"testing"
	"time"

	"invoscan-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(id string) *model.Session {
	return &model.Session{
		ID:        id,
		Title:     "test",
		Messages:  make([]model.Message, 0),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestMemoryStorageSessionLifecycle(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.Init())

	require.NoError(t, m.CreateSession(newTestSession("s1")))

	got, err := m.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = m.GetSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.DeleteSession("s1"))
	assert.ErrorIs(t, m.DeleteSession("s1"), ErrSessionNotFound)
}

func TestMemoryStorageMessageOrder(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreateSession(newTestSession("s1")))

	// 追加只增不减，保持到达顺序
	for i := 0; i < 10; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		require.NoError(t, m.AddMessage("s1", &model.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    role,
			Content: fmt.Sprintf("message %d", i),
		}))

		messages, err := m.GetMessages("s1")
		require.NoError(t, err)
		require.Len(t, messages, i+1)
	}

	messages, err := m.GetMessages("s1")
	require.NoError(t, err)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.ID)
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}

	assert.ErrorIs(t, m.AddMessage("missing", &model.Message{}), ErrSessionNotFound)
}

func TestMemoryStorageClearMessages(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreateSession(newTestSession("s1")))
	require.NoError(t, m.AddMessage("s1", &model.Message{ID: "m1", Role: model.RoleAssistant, Content: "report"}))

	require.NoError(t, m.ClearMessages("s1"))

	messages, err := m.GetMessages("s1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	assert.ErrorIs(t, m.ClearMessages("missing"), ErrSessionNotFound)
}

func TestMemoryStorageSessionSnapshots(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreateSession(newTestSession("s1")))

	// 读取方拿到的是快照，改动不会穿透到存储里
	got, err := m.GetSession("s1")
	require.NoError(t, err)
	got.Title = "scribbled"
	got.ImageAnalyzed = true

	fresh, err := m.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "test", fresh.Title)
	assert.False(t, fresh.ImageAnalyzed)
}

func TestMemoryStorageUpdateWithStaleSnapshotKeepsMessages(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreateSession(newTestSession("s1")))

	stale, err := m.GetSession("s1")
	require.NoError(t, err)

	require.NoError(t, m.AddMessage("s1", &model.Message{
		ID: "m1", Role: model.RoleAssistant, Content: "report",
	}))

	// 用追加之前取的快照提交标志更新，已落库的消息不能丢
	stale.ImageAnalyzed = true
	require.NoError(t, m.UpdateSession(stale))

	messages, err := m.GetMessages("s1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "report", messages[0].Content)

	got, err := m.GetSession("s1")
	require.NoError(t, err)
	assert.True(t, got.ImageAnalyzed)
}

func TestMemoryStorageListSessions(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.CreateSession(newTestSession("s1")))
	require.NoError(t, m.CreateSession(newTestSession("s2")))

	sessions, err := m.ListSessions()
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
