package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Task status route values.
const (
	StatusDone   = "done"
	StatusUndone = "undone"
)

// TaskDetails carries the editable task fields; nil fields are left unchanged.
type TaskDetails struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// TaskService mutates tasks through the task routes and notifies assignees.
type TaskService struct {
	Deps
	notifier *TaskNotifier
	locks    *keyLock
	now      func() time.Time
}

// NewTaskService creates a TaskService. notifier may be nil.
func NewTaskService(deps Deps, notifier *TaskNotifier) *TaskService {
	if deps.Directory == nil {
		deps.Directory = NewUserDirectory(deps.Store, 0)
	}
	return &TaskService{
		Deps:     deps,
		notifier: notifier,
		locks:    newKeyLock(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the task if actor may access it.
func (s *TaskService) Get(ctx context.Context, actor *domain.User, taskID string) (*domain.Task, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, task, false); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateDetails edits title, description or due date. Anyone who can see
// the task may edit it; reassignment stays with managers.
func (s *TaskService) UpdateDetails(ctx context.Context, actor *domain.User, taskID string, details TaskDetails) (*domain.Task, error) {
	if details.Title != nil && strings.TrimSpace(*details.Title) == "" {
		return nil, domain.NewValidationError("Invalid task data").Field("title", "must not be blank")
	}
	return s.mutate(ctx, actor, taskID, false, domain.UpdateDetails, func(task *domain.Task) error {
		if details.Title != nil {
			task.Title = strings.TrimSpace(*details.Title)
		}
		if details.Description != nil {
			task.Description = *details.Description
		}
		if details.DueDate != nil {
			due := details.DueDate.UTC()
			task.DueDate = &due
		}
		return nil
	})
}

// AssignEmployees replaces the assignee list. Every id must be a known user.
func (s *TaskService) AssignEmployees(ctx context.Context, actor *domain.User, taskID string, employeeIDs []string) (*domain.Task, error) {
	ids := domain.NormalizeParticipants("", employeeIDs)
	if len(ids) > 0 {
		_, missing, err := s.Directory.Resolve(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve employees: %w", err)
		}
		if len(missing) > 0 {
			return nil, &domain.ValidationError{Message: "One or more employees not found", MissingIDs: missing}
		}
	}
	return s.mutate(ctx, actor, taskID, true, domain.UpdateAssignees, func(task *domain.Task) error {
		task.Assignees = ids
		return nil
	})
}

// SetStatus marks the task done or undone.
func (s *TaskService) SetStatus(ctx context.Context, actor *domain.User, taskID, status string) (*domain.Task, error) {
	var done bool
	switch status {
	case StatusDone:
		done = true
	case StatusUndone:
		done = false
	default:
		return nil, domain.NewValidationError("Invalid status").Field("status", "must be done or undone")
	}
	return s.mutate(ctx, actor, taskID, false, domain.UpdateStatus, func(task *domain.Task) error {
		task.Done = done
		return nil
	})
}

// mutate loads, authorizes, applies, persists and then notifies. The
// notification runs after the write and cannot fail it.
func (s *TaskService) mutate(ctx context.Context, actor *domain.User, taskID string, manage bool, updateType domain.UpdateType, apply func(*domain.Task) error) (*domain.Task, error) {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, task, manage); err != nil {
		return nil, err
	}
	if err := apply(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = s.now()
	if err := s.Store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	s.log(ctx).Info("task updated", "task_id", task.ID, "update_type", string(updateType), "actor_id", actor.ID)

	s.notifier.Notify(ctx, task, actor.ID, updateType)
	return task, nil
}

func (s *TaskService) authorize(ctx context.Context, actor *domain.User, task *domain.Task, manage bool) error {
	if actor == nil {
		return domain.ErrUnauthenticated
	}
	if s.Policy == nil {
		return nil
	}
	check := s.Policy.CanAccessTask
	if manage {
		check = s.Policy.CanAssignTask
	}
	allowed, err := check(ctx, actor, task)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.ErrForbidden
	}
	return nil
}
