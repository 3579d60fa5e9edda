// Package repository persists users, chats, messages and tasks.
package repository

import (
	"context"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Store defines the interface for data persistence.
// Lookups return domain.ErrNotFound when the record does not exist.
type Store interface {
	// User operations
	UpsertUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUsers(ctx context.Context, userIDs []string) ([]domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// Chat operations
	// CreateChat returns domain.ErrConflict when a chat with the same
	// participant key already exists.
	CreateChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	FindChatByParticipantKey(ctx context.Context, key string) (*domain.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error)

	// Message operations
	// AppendMessage adds msg to the end of the chat log in one atomic step
	// and bumps the chat's updatedAt.
	AppendMessage(ctx context.Context, chatID string, msg *domain.Message) error
	ListMessages(ctx context.Context, chatID string, limit, skip int) ([]domain.Message, int, error)

	// Task operations
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error

	Close() error
}

// window returns the [skip, skip+limit) bounds clamped to n.
func window(n, limit, skip int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if skip > n {
		skip = n
	}
	end := n
	if limit > 0 && skip+limit < n {
		end = skip + limit
	}
	return skip, end
}
