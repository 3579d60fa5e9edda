package domain

import (
	"sort"
	"strings"
	"time"
)

// User is a read-only projection of a user record owned by user management.
type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Role      Role      `json:"role" bson:"role"`
	Enabled   bool      `json:"enabled" bson:"enabled"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Ref returns the display projection of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Chat is a durable conversation: a participant set and an append-only log.
type Chat struct {
	ID             string    `json:"id" bson:"_id"`
	Participants   []string  `json:"participants" bson:"participants"`
	ParticipantKey string    `json:"-" bson:"participantKey"`
	Messages       []Message `json:"messages" bson:"messages"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// HasParticipant reports whether userID is in the chat's participant set.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is an immutable chat message.
type Message struct {
	ID        string    `json:"id" bson:"id"`
	SenderID  string    `json:"senderId" bson:"senderId"`
	Content   string    `json:"content" bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Task is a snapshot of a task record.
type Task struct {
	ID          string     `json:"id" bson:"_id"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	DueDate     *time.Time `json:"dueDate,omitempty" bson:"dueDate,omitempty"`
	Done        bool       `json:"done" bson:"done"`
	CreatedBy   string     `json:"createdBy" bson:"createdBy"`
	Assignees   []string   `json:"assignees" bson:"assignees"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// IsAssignee reports whether userID is assigned to the task.
func (t *Task) IsAssignee(userID string) bool {
	for _, a := range t.Assignees {
		if a == userID {
			return true
		}
	}
	return false
}

// TaskNotification is the event pushed to assignees when a task changes.
type TaskNotification struct {
	Task       Task       `json:"task"`
	UpdateType UpdateType `json:"updateType"`
	UpdatedBy  string     `json:"updatedBy"`
	Timestamp  time.Time  `json:"timestamp"`
}

// UserRef is the name/email projection attached to participants and senders.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MessageView is a message with its sender resolved.
type MessageView struct {
	ID        string    `json:"id"`
	Sender    UserRef   `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatView is a chat with participants and senders resolved.
type ChatView struct {
	ID           string        `json:"id"`
	Participants []UserRef     `json:"participants"`
	Messages     []MessageView `json:"messages"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// MessagePage is an offset window over a chat's messages.
type MessagePage struct {
	ChatID   string        `json:"chatId"`
	Messages []MessageView `json:"messages"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"hasMore"`
}

// AvailableUser is a chat candidate annotated with live presence.
type AvailableUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

// NormalizeParticipants returns the set {actorID} ∪ ids with blanks trimmed
// and duplicates collapsed, in first-seen order.
func NormalizeParticipants(actorID string, ids []string) []string {
	seen := make(map[string]struct{}, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range append([]string{actorID}, ids...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParticipantKey is the canonical identity of a participant set: the sorted
// unique ids joined by commas. Two chats never share a key.
func ParticipantKey(ids []string) string {
	uniq := NormalizeParticipants("", ids)
	sort.Strings(uniq)
	return strings.Join(uniq, ",")
}
