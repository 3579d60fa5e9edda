// Package protocol defines the WebSocket event protocol between clients and
// the realtime server.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Events from client to server
const (
	EventSendMessage = "send-message"
	EventCreateChat  = "create-chat"
	EventJoinChat    = "join-chat"
)

// Events from server to client
const (
	EventOnlineUsersUpdated = "online-users-updated"
	EventUserChatsSynced    = "user-chats-synced"
	EventNewMessage         = "new-message"
	EventChatCreated        = "chat-created"
	EventChatJoined         = "chat-joined"
	EventTaskUpdated        = "task-updated"
	EventError              = "error"
)

// Error messages sent in `error` events.
const (
	ErrInvalidMessageData   = "Invalid message data"
	ErrChatNotFound         = "Chat not found"
	ErrNotAuthorizedToSend  = "Not authorized to send messages in this chat"
	ErrFailedToSend         = "Failed to send message"
	ErrInvalidParticipants  = "Invalid participant data"
	ErrParticipantsNotFound = "One or more participants not found"
	ErrFailedToCreateChat   = "Failed to create chat"
	ErrNotAuthorizedToJoin  = "Not authorized to join this chat"
	ErrFailedToJoinChat     = "Failed to join chat"
	ErrUnknownEvent         = "Unknown event"
)

// Envelope is the frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event with its payload.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event string, data any) []byte {
	b, err := Encode(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses an envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, fmt.Errorf("missing event name")
	}
	return &env, nil
}

// SendMessagePayload is sent by the client to post a message.
type SendMessagePayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// CreateChatPayload is sent by the client to open a conversation.
type CreateChatPayload struct {
	ParticipantIDs []string `json:"participantIds"`
}

// OnlineUsersPayload lists the users with at least one live connection.
type OnlineUsersPayload struct {
	OnlineUserIDs []string `json:"onlineUserIds"`
}

// ChatsSyncedPayload confirms the room sync performed at connect.
type ChatsSyncedPayload struct {
	ChatCount int `json:"chatCount"`
}

// NewMessagePayload carries a persisted message to a chat room.
type NewMessagePayload struct {
	ChatID  string             `json:"chatId"`
	Message domain.MessageView `json:"message"`
}

// ChatCreatedPayload carries a new or re-opened chat.
type ChatCreatedPayload struct {
	Chat domain.ChatView `json:"chat"`
}

// ChatJoinedPayload confirms a room join.
type ChatJoinedPayload struct {
	ChatID string `json:"chatId"`
}

// ErrorPayload is sent to the triggering connection when an event fails.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TaskUpdatedPayload is the wire form of domain.TaskNotification.
type TaskUpdatedPayload = domain.TaskNotification

// DecodeChatID reads the join-chat payload: a bare chat id string, or an
// object with a chatId field.
func DecodeChatID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj ChatJoinedPayload
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return obj.ChatID, nil
}
