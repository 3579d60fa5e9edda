package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// DefaultNotificationTTL is how long a task notification stays visible.
const DefaultNotificationTTL = 5 * time.Second

// Notification is a task-updated event as held by the view.
type Notification struct {
	domain.TaskNotification
	ReceivedAt time.Time
}

// View is the client-side state built from server events. Applying the
// same event twice leaves it unchanged.
type View struct {
	mu            sync.Mutex
	chats         []domain.ChatView // newest first
	current       string
	online        []string
	syncedCount   int
	notifications []Notification // newest first
	lastError     string
	ttl           time.Duration
	now           func() time.Time
}

// NewView creates an empty view. ttl <= 0 uses DefaultNotificationTTL.
func NewView(ttl time.Duration) *View {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &View{ttl: ttl, now: time.Now}
}

// LoadChats replaces the chat list, as after fetching GET /chats.
func (v *View) LoadChats(chats []domain.ChatView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chats = append([]domain.ChatView(nil), chats...)
}

// AddChat puts chat at the top of the list unless it is already known, and
// makes it current.
func (v *View) AddChat(chat domain.ChatView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.addChatLocked(chat)
}

func (v *View) addChatLocked(chat domain.ChatView) {
	v.current = chat.ID
	if v.indexLocked(chat.ID) >= 0 {
		return
	}
	v.chats = append([]domain.ChatView{chat}, v.chats...)
}

// Apply folds one server event into the view.
func (v *View) Apply(env protocol.Envelope) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch env.Event {
	case protocol.EventOnlineUsersUpdated:
		var p protocol.OnlineUsersPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.online = p.OnlineUserIDs

	case protocol.EventUserChatsSynced:
		var p protocol.ChatsSyncedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.syncedCount = p.ChatCount

	case protocol.EventChatCreated:
		var p protocol.ChatCreatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.addChatLocked(p.Chat)

	case protocol.EventNewMessage:
		var p protocol.NewMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.appendMessageLocked(p.ChatID, p.Message)

	case protocol.EventTaskUpdated:
		var p protocol.TaskUpdatedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.notifications = append([]Notification{{TaskNotification: p, ReceivedAt: v.now()}}, v.notifications...)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Event, err)
		}
		v.lastError = p.Message
	}
	return nil
}

// appendMessageLocked ignores messages for unknown chats and ids already
// shown.
func (v *View) appendMessageLocked(chatID string, msg domain.MessageView) {
	i := v.indexLocked(chatID)
	if i < 0 {
		return
	}
	chat := v.chats[i]
	if msg.ID != "" {
		for _, m := range chat.Messages {
			if m.ID == msg.ID {
				return
			}
		}
	}
	chat.Messages = append(append([]domain.MessageView(nil), chat.Messages...), msg)
	chat.UpdatedAt = v.now()
	v.chats[i] = chat
}

func (v *View) indexLocked(chatID string) int {
	for i, c := range v.chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

// Chats returns a copy of the chat list.
func (v *View) Chats() []domain.ChatView {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.ChatView(nil), v.chats...)
}

// Chat returns the chat with id.
func (v *View) Chat(id string) (domain.ChatView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexLocked(id); i >= 0 {
		return v.chats[i], true
	}
	return domain.ChatView{}, false
}

// CurrentChat returns the most recently opened chat.
func (v *View) CurrentChat() (domain.ChatView, bool) {
	v.mu.Lock()
	id := v.current
	v.mu.Unlock()
	if id == "" {
		return domain.ChatView{}, false
	}
	return v.Chat(id)
}

// OnlineUserIDs returns the last presence snapshot.
func (v *View) OnlineUserIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.online...)
}

// SyncedChatCount is the chat count from the last user-chats-synced.
func (v *View) SyncedChatCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.syncedCount
}

// LastError is the message of the most recent error event.
func (v *View) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastError
}

// Notifications returns the unexpired notifications, newest first.
func (v *View) Notifications() []Notification {
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := v.now().Add(-v.ttl)
	live := v.notifications[:0]
	for _, n := range v.notifications {
		if n.ReceivedAt.After(cutoff) {
			live = append(live, n)
		}
	}
	v.notifications = live
	return append([]Notification(nil), live...)
}

// Dismiss drops every notification for taskID.
func (v *View) Dismiss(taskID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.notifications[:0]
	for _, n := range v.notifications {
		if n.Task.ID != taskID {
			kept = append(kept, n)
		}
	}
	v.notifications = kept
}

// ClearNotifications drops all notifications.
func (v *View) ClearNotifications() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notifications = nil
}
