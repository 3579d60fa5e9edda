package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/policy"
	"github.com/xiaot623/teamdesk/internal/protocol"
	"github.com/xiaot623/teamdesk/internal/repository"
	"github.com/xiaot623/teamdesk/tests/helpers"
)

type fixture struct {
	store *repository.SQLiteStore
	hub   *hub.Hub
	deps  Deps
	chats *ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	h := helpers.StartHub(t)
	engine, err := policy.NewEngine(context.Background(), "")
	require.NoError(t, err)

	helpers.SeedUsers(t, store, domain.RoleEmployee, "alice", "bob", "carol", "dave")
	helpers.SeedUsers(t, store, domain.RoleManager, "mgr")

	deps := Deps{
		Store:     store,
		Realtime:  h,
		Directory: NewUserDirectory(store, 0),
		Policy:    engine,
	}
	return &fixture{store: store, hub: h, deps: deps, chats: NewChatService(deps)}
}

func validationMessage(t *testing.T, err error) string {
	t.Helper()
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
	return vErr.Message
}

func TestCreateChatIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chats.CreateChat(ctx, "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.True(t, created)

	for _, tc := range []struct {
		actor string
		ids   []string
	}{
		{"bob", []string{"carol", "alice"}},
		{"alice", []string{"alice", "carol", "bob", "bob"}},
		{"carol", []string{"bob", "alice"}},
	} {
		again, created, err := f.chats.CreateChat(ctx, tc.actor, tc.ids)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	}

	chats, err := f.store.ListChatsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestConcurrentCreateChatYieldsOneChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	actors := []string{"alice", "bob", "carol"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := actors[i%3]
			view, c, err := f.chats.CreateChat(ctx, actor, []string{"alice", "bob", "carol"})
			if err != nil {
				t.Errorf("CreateChat failed: %v", err)
				return
			}
			mu.Lock()
			ids[view.ID]++
			if c {
				created++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestCreateChatNotifiesParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := helpers.Connect(t, f.hub, "alice")
	bob := helpers.Connect(t, f.hub, "bob")
	helpers.Drain(alice)

	view, created, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Len(t, view.Participants, 2)
	assert.Equal(t, "alice", view.Participants[0].Name)

	for _, conn := range []*hub.Connection{alice, bob} {
		got := helpers.Events[protocol.ChatCreatedPayload](t, helpers.Drain(conn), protocol.EventChatCreated)
		require.Len(t, got, 1)
		assert.Equal(t, view.ID, got[0].Chat.ID)
		assert.True(t, f.hub.InRoom(conn, view.ID))
	}

	// Re-opening only tells the actor.
	_, created, err = f.chats.CreateChat(ctx, "bob", []string{"alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, helpers.Events[protocol.ChatCreatedPayload](t, helpers.Drain(bob), protocol.EventChatCreated), 1)
	assert.Empty(t, helpers.Drain(alice))
}

func TestCreateChatValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.chats.CreateChat(ctx, "alice", nil)
	assert.Equal(t, protocol.ErrInvalidParticipants, validationMessage(t, err))

	_, _, err = f.chats.CreateChat(ctx, "alice", []string{"bob", "  "})
	assert.Equal(t, protocol.ErrInvalidParticipants, validationMessage(t, err))

	_, _, err = f.chats.CreateChat(ctx, "alice", []string{"bob", "ghost", "phantom"})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, protocol.ErrParticipantsNotFound, vErr.Message)
	assert.Equal(t, []string{"ghost", "phantom"}, vErr.MissingIDs)

	chats, err := f.store.ListChatsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestSendMessageDeliversOncePerJoinedConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	phone := helpers.Connect(t, f.hub, "alice")
	laptop := helpers.Connect(t, f.hub, "alice")
	bob := helpers.Connect(t, f.hub, "bob")
	carol := helpers.Connect(t, f.hub, "carol")

	chat, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	for _, conn := range []*hub.Connection{phone, laptop, bob, carol} {
		helpers.Drain(conn)
	}

	msg, err := f.chats.SendMessage(ctx, "alice", chat.ID, "  hello bob  ")
	require.NoError(t, err)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, "alice@example.com", msg.Sender.Email)

	for _, conn := range []*hub.Connection{phone, laptop, bob} {
		got := helpers.Events[protocol.NewMessagePayload](t, helpers.Drain(conn), protocol.EventNewMessage)
		require.Len(t, got, 1, "connection %s", conn.ID)
		assert.Equal(t, chat.ID, got[0].ChatID)
		assert.Equal(t, msg.ID, got[0].Message.ID)
	}
	assert.Empty(t, helpers.Drain(carol), "non-participants receive nothing")

	_, total, err := f.store.ListMessages(ctx, chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSendMessageErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	_, err = f.chats.SendMessage(ctx, "alice", chat.ID, "   ")
	assert.Equal(t, protocol.ErrInvalidMessageData, validationMessage(t, err))

	_, err = f.chats.SendMessage(ctx, "alice", "", "hi")
	assert.Equal(t, protocol.ErrInvalidMessageData, validationMessage(t, err))

	_, err = f.chats.SendMessage(ctx, "alice", "missing", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.chats.SendMessage(ctx, "carol", chat.ID, "let me in")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, total, err := f.store.ListMessages(ctx, chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "rejected messages are never persisted")
}

func TestBroadcastOrderMatchesPersistenceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob := helpers.Connect(t, f.hub, "bob")
	chat, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	helpers.Drain(bob)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := []string{"alice", "carol"}[i%2]
			if _, err := f.chats.SendMessage(ctx, sender, chat.ID, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("SendMessage failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got := helpers.Events[protocol.NewMessagePayload](t, helpers.Drain(bob), protocol.EventNewMessage)
	stored, _, err := f.store.ListMessages(ctx, chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, len(stored))
	for i := range stored {
		assert.Equal(t, stored[i].ID, got[i].Message.ID)
	}
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)

	carol := helpers.Connect(t, f.hub, "carol")
	assert.ErrorIs(t, f.chats.JoinRoom(ctx, carol, chat.ID), domain.ErrForbidden)
	assert.False(t, f.hub.InRoom(carol, chat.ID))
	assert.ErrorIs(t, f.chats.JoinRoom(ctx, carol, "missing"), domain.ErrNotFound)

	// A non-participant is never delivered room traffic.
	_, err = f.chats.SendMessage(ctx, "alice", chat.ID, "secret")
	require.NoError(t, err)
	assert.Empty(t, helpers.Events[protocol.NewMessagePayload](t, helpers.Drain(carol), protocol.EventNewMessage))

	bob := helpers.Connect(t, f.hub, "bob")
	require.NoError(t, f.chats.JoinRoom(ctx, bob, chat.ID))
	joined := helpers.Events[protocol.ChatJoinedPayload](t, helpers.Drain(bob), protocol.EventChatJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, chat.ID, joined[0].ChatID)
}

func TestSyncRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	c2, _, err := f.chats.CreateChat(ctx, "carol", []string{"alice"})
	require.NoError(t, err)
	_, _, err = f.chats.CreateChat(ctx, "bob", []string{"carol"})
	require.NoError(t, err)

	conn := helpers.Connect(t, f.hub, "alice")
	ids, err := f.chats.SyncRooms(ctx, conn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, ids)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, f.hub.Rooms(conn))

	synced := helpers.Events[protocol.ChatsSyncedPayload](t, helpers.Drain(conn), protocol.EventUserChatsSynced)
	require.Len(t, synced, 1)
	assert.Equal(t, 2, synced[0].ChatCount)
}

func TestGetMessagesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.chats.SendMessage(ctx, "alice", chat.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	page, err := f.chats.GetMessages(ctx, "bob", chat.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m2", page.Messages[0].Content)
	assert.Equal(t, "alice", page.Messages[0].Sender.Name)

	page, err = f.chats.GetMessages(ctx, "bob", chat.ID, 0, 4)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Len(t, page.Messages, 1)

	_, err = f.chats.GetMessages(ctx, "carol", chat.ID, 10, 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	view, err := f.chats.GetChat(ctx, "alice", chat.ID)
	require.NoError(t, err)
	assert.Len(t, view.Messages, 5)
}

func TestChatsForUserNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older, _, err := f.chats.CreateChat(ctx, "alice", []string{"bob"})
	require.NoError(t, err)
	newer, _, err := f.chats.CreateChat(ctx, "alice", []string{"carol"})
	require.NoError(t, err)

	_, err = f.chats.SendMessage(ctx, "bob", older.ID, "bump")
	require.NoError(t, err)

	views, err := f.chats.ChatsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, older.ID, views[0].ID)
	assert.Equal(t, newer.ID, views[1].ID)
	assert.Equal(t, "bob", views[0].Messages[0].Sender.Name)
}

func TestDirectChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chats.DirectChat(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	again, created, err := f.chats.DirectChat(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = f.chats.DirectChat(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = f.chats.DirectChat(ctx, "alice", "alice")
	assert.True(t, domain.IsValidation(err))
}

func TestAvailableUsersOnlineFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	helpers.Connect(t, f.hub, "dave")
	helpers.Connect(t, f.hub, "bob")

	users, err := f.chats.AvailableUsers(ctx, "alice")
	require.NoError(t, err)

	var order []string
	for _, u := range users {
		order = append(order, u.ID)
	}
	assert.Equal(t, []string{"bob", "dave", "carol", "mgr"}, order)
	assert.True(t, users[0].IsOnline)
	assert.False(t, users[2].IsOnline)
}

func TestAvailableUsersRespectsPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	engine, err := policy.NewEngine(ctx, `
package teamdesk.authz

default user_visible := false

user_visible if input.user.role == "manager"

default task_access := false

default task_assign := false
`)
	require.NoError(t, err)
	deps := f.deps
	deps.Policy = engine
	chats := NewChatService(deps)

	users, err := chats.AvailableUsers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "mgr", users[0].ID)
}
