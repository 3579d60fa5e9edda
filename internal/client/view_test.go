package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

func envelope(t *testing.T, event string, data any) protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode(protocol.MustEncode(event, data))
	require.NoError(t, err)
	return *env
}

func apply(t *testing.T, v *View, event string, data any) {
	t.Helper()
	require.NoError(t, v.Apply(envelope(t, event, data)))
}

func TestViewMessagesAreIdempotent(t *testing.T) {
	v := NewView(0)
	chat := domain.ChatView{ID: "c1", Participants: []domain.UserRef{{ID: "alice"}, {ID: "bob"}}}
	apply(t, v, protocol.EventChatCreated, protocol.ChatCreatedPayload{Chat: chat})
	apply(t, v, protocol.EventChatCreated, protocol.ChatCreatedPayload{Chat: chat})
	require.Len(t, v.Chats(), 1, "chat-created for a known chat does not duplicate")

	msg := domain.MessageView{ID: "m1", Sender: domain.UserRef{ID: "bob"}, Content: "hi"}
	apply(t, v, protocol.EventNewMessage, protocol.NewMessagePayload{ChatID: "c1", Message: msg})
	apply(t, v, protocol.EventNewMessage, protocol.NewMessagePayload{ChatID: "c1", Message: msg})
	apply(t, v, protocol.EventNewMessage, protocol.NewMessagePayload{ChatID: "unknown", Message: domain.MessageView{ID: "m2"}})

	got, ok := v.Chat("c1")
	require.True(t, ok)
	assert.Len(t, got.Messages, 1)
	_, ok = v.Chat("unknown")
	assert.False(t, ok, "messages for unknown chats are ignored")

	current, ok := v.CurrentChat()
	require.True(t, ok)
	assert.Equal(t, "c1", current.ID)
}

func TestViewChatOrder(t *testing.T) {
	v := NewView(0)
	v.LoadChats([]domain.ChatView{{ID: "old"}})
	v.AddChat(domain.ChatView{ID: "new"})
	v.AddChat(domain.ChatView{ID: "old"})

	var ids []string
	for _, c := range v.Chats() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"new", "old"}, ids)
}

func TestViewPresenceAndErrors(t *testing.T) {
	v := NewView(0)
	apply(t, v, protocol.EventOnlineUsersUpdated, protocol.OnlineUsersPayload{OnlineUserIDs: []string{"alice", "bob"}})
	apply(t, v, protocol.EventUserChatsSynced, protocol.ChatsSyncedPayload{ChatCount: 3})
	apply(t, v, protocol.EventError, protocol.ErrorPayload{Message: protocol.ErrChatNotFound})

	assert.Equal(t, []string{"alice", "bob"}, v.OnlineUserIDs())
	assert.Equal(t, 3, v.SyncedChatCount())
	assert.Equal(t, protocol.ErrChatNotFound, v.LastError())

	assert.Error(t, v.Apply(protocol.Envelope{Event: protocol.EventNewMessage, Data: []byte(`"nope"`)}))
}

func TestViewNotifications(t *testing.T) {
	v := NewView(0)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	notify := func(taskID string, typ domain.UpdateType) {
		apply(t, v, protocol.EventTaskUpdated, protocol.TaskUpdatedPayload{
			Task: domain.Task{ID: taskID}, UpdateType: typ, UpdatedBy: "mgr", Timestamp: now,
		})
	}
	notify("t1", domain.UpdateDetails)
	now = now.Add(time.Second)
	notify("t2", domain.UpdateStatus)
	now = now.Add(time.Second)
	notify("t1", domain.UpdateAssignees)

	got := v.Notifications()
	require.Len(t, got, 3)
	assert.Equal(t, domain.UpdateAssignees, got[0].UpdateType, "newest first")
	assert.Equal(t, "t2", got[1].Task.ID)

	v.Dismiss("t1")
	got = v.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].Task.ID)

	now = now.Add(DefaultNotificationTTL)
	assert.Empty(t, v.Notifications(), "notifications expire")

	notify("t3", domain.UpdateStatus)
	v.ClearNotifications()
	assert.Empty(t, v.Notifications())
}
