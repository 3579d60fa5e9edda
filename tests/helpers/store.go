package helpers

import (
	"context"
	"testing"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedUsers upserts enabled users with the given roles; ids double as names.
func SeedUsers(t *testing.T, s repository.Store, role domain.Role, ids ...string) {
	t.Helper()
	for _, id := range ids {
		u := &domain.User{ID: id, Name: id, Email: id + "@example.com", Role: role, Enabled: true}
		if err := s.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}

// SeedTask creates a task assigned to assignees.
func SeedTask(t *testing.T, s repository.Store, id, createdBy string, assignees ...string) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:        id,
		Title:     "task " + id,
		CreatedBy: createdBy,
		Assignees: append([]string{}, assignees...),
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("failed to seed task %s: %v", id, err)
	}
	return task
}
