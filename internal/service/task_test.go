package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
	"github.com/xiaot623/teamdesk/tests/helpers"
)

func TestNotifyExcludesActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := NewTaskNotifier(f.hub, nil, nil)

	alice := helpers.Connect(t, f.hub, "alice")
	bob1 := helpers.Connect(t, f.hub, "bob")
	bob2 := helpers.Connect(t, f.hub, "bob")
	helpers.Drain(alice)
	helpers.Drain(bob1)

	task := &domain.Task{ID: "t1", Title: "Write docs", Assignees: []string{"alice", "bob", "carol"}}
	n := notifier.Notify(ctx, task, "alice", domain.UpdateStatus)
	assert.Equal(t, 2, n, "carol is offline and alice is the actor")

	assert.Empty(t, helpers.Events[domain.TaskNotification](t, helpers.Drain(alice), protocol.EventTaskUpdated))
	for _, conn := range [][]protocol.Envelope{helpers.Drain(bob1), helpers.Drain(bob2)} {
		got := helpers.Events[domain.TaskNotification](t, conn, protocol.EventTaskUpdated)
		require.Len(t, got, 1)
		assert.Equal(t, "t1", got[0].Task.ID)
		assert.Equal(t, domain.UpdateStatus, got[0].UpdateType)
		assert.Equal(t, "alice", got[0].UpdatedBy)
		assert.False(t, got[0].Timestamp.IsZero())
	}
}

func TestNotifyEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var nilNotifier *TaskNotifier
	assert.Zero(t, nilNotifier.Notify(ctx, &domain.Task{ID: "t", Assignees: []string{"bob"}}, "alice", domain.UpdateDetails))

	notifier := NewTaskNotifier(f.hub, nil, nil)
	bob := helpers.Connect(t, f.hub, "bob")
	assert.Zero(t, notifier.Notify(ctx, nil, "alice", domain.UpdateDetails))
	assert.Zero(t, notifier.Notify(ctx, &domain.Task{ID: "t", Assignees: []string{"bob"}}, "alice", domain.UpdateType("renamed")))
	assert.Zero(t, notifier.Notify(ctx, &domain.Task{ID: "t", Assignees: []string{"bob"}}, "bob", domain.UpdateDetails))
	assert.Equal(t, 1, notifier.Notify(ctx, &domain.Task{ID: "t", Assignees: []string{"bob", "bob"}}, "alice", domain.UpdateDetails))
	assert.Len(t, helpers.Drain(bob), 1)
}

func newTaskService(t *testing.T, f *fixture, withNotifier bool) *TaskService {
	t.Helper()
	var notifier *TaskNotifier
	if withNotifier {
		notifier = NewTaskNotifier(f.hub, nil, nil)
	}
	return NewTaskService(f.deps, notifier)
}

func user(t *testing.T, f *fixture, id string) *domain.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := newTaskService(t, f, true)
	helpers.SeedTask(t, f.store, "t1", "mgr", "alice", "bob")

	alice := helpers.Connect(t, f.hub, "alice")
	bob := helpers.Connect(t, f.hub, "bob")
	helpers.Drain(alice)

	_, err := tasks.SetStatus(ctx, user(t, f, "carol"), "t1", StatusDone)
	assert.ErrorIs(t, err, domain.ErrForbidden, "employees outside the task cannot change it")

	_, err = tasks.SetStatus(ctx, user(t, f, "alice"), "t1", "finished")
	assert.True(t, domain.IsValidation(err))

	task, err := tasks.SetStatus(ctx, user(t, f, "alice"), "t1", StatusDone)
	require.NoError(t, err)
	assert.True(t, task.Done)

	assert.Empty(t, helpers.Drain(alice))
	got := helpers.Events[domain.TaskNotification](t, helpers.Drain(bob), protocol.EventTaskUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, domain.UpdateStatus, got[0].UpdateType)
	assert.True(t, got[0].Task.Done)

	stored, err := f.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, stored.Done)

	_, err = tasks.SetStatus(ctx, user(t, f, "alice"), "missing", StatusDone)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssignEmployees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := newTaskService(t, f, true)
	helpers.SeedTask(t, f.store, "t1", "mgr", "alice")

	carol := helpers.Connect(t, f.hub, "carol")
	mgr := helpers.Connect(t, f.hub, "mgr")
	helpers.Drain(carol)

	_, err := tasks.AssignEmployees(ctx, user(t, f, "alice"), "t1", []string{"carol"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = tasks.AssignEmployees(ctx, user(t, f, "mgr"), "t1", []string{"carol", "ghost"})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"ghost"}, vErr.MissingIDs)

	task, err := tasks.AssignEmployees(ctx, user(t, f, "mgr"), "t1", []string{"carol", "mgr", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "mgr"}, task.Assignees)

	got := helpers.Events[domain.TaskNotification](t, helpers.Drain(carol), protocol.EventTaskUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, domain.UpdateAssignees, got[0].UpdateType)
	assert.Empty(t, helpers.Events[domain.TaskNotification](t, helpers.Drain(mgr), protocol.EventTaskUpdated))
}

func TestUpdateDetailsWithoutNotifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tasks := newTaskService(t, f, false)
	helpers.SeedTask(t, f.store, "t1", "mgr", "bob")

	blank := "  "
	_, err := tasks.UpdateDetails(ctx, user(t, f, "mgr"), "t1", TaskDetails{Title: &blank})
	assert.True(t, domain.IsValidation(err))

	title := "Quarterly report"
	due := time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)
	task, err := tasks.UpdateDetails(ctx, user(t, f, "mgr"), "t1", TaskDetails{Title: &title, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, title, task.Title)
	require.NotNil(t, task.DueDate)

	got, err := tasks.Get(ctx, user(t, f, "bob"), "t1")
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)
	assert.True(t, got.DueDate.Equal(due))

	_, err = tasks.Get(ctx, user(t, f, "carol"), "t1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	renamed := "Quarterly report v2"
	task, err = tasks.UpdateDetails(ctx, user(t, f, "bob"), "t1", TaskDetails{Title: &renamed})
	require.NoError(t, err, "assignees may edit details")
	assert.Equal(t, renamed, task.Title)

	_, err = tasks.UpdateDetails(ctx, user(t, f, "carol"), "t1", TaskDetails{Title: &title})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
