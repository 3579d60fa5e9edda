package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// SyncRooms joins conn to the room of every chat its user participates in,
// confirms with user-chats-synced and returns the chat ids.
func (s *ChatService) SyncRooms(ctx context.Context, conn *hub.Connection) ([]string, error) {
	chats, err := s.Store.ListChatsForUser(ctx, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		if !s.Realtime.JoinRoom(conn, chat.ID) {
			// Connection went away mid-sync.
			return ids, nil
		}
		ids = append(ids, chat.ID)
	}
	s.Realtime.SendToConnection(conn, protocol.MustEncode(protocol.EventUserChatsSynced, protocol.ChatsSyncedPayload{
		ChatCount: len(ids),
	}))
	s.log(ctx).Debug("rooms synced", "conn_id", conn.ID, "user_id", conn.UserID, "rooms", len(ids))
	return ids, nil
}

// JoinRoom joins conn to chatID's room after checking that its user is a
// participant, and confirms with chat-joined.
func (s *ChatService) JoinRoom(ctx context.Context, conn *hub.Connection, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.ErrNotFound
	}
	if _, err := s.participantChat(ctx, conn.UserID, chatID); err != nil {
		return err
	}
	if !s.Realtime.JoinRoom(conn, chatID) {
		return fmt.Errorf("connection %s is no longer live", conn.ID)
	}
	s.Realtime.SendToConnection(conn, protocol.MustEncode(protocol.EventChatJoined, protocol.ChatJoinedPayload{ChatID: chatID}))
	return nil
}
