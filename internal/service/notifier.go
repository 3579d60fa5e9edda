package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/logging"
	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// TaskNotifier pushes task-updated events to the live connections of a
// task's assignees. A nil *TaskNotifier is valid and notifies nobody.
type TaskNotifier struct {
	realtime Realtime
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewTaskNotifier creates a TaskNotifier.
func NewTaskNotifier(rt Realtime, m *metrics.Metrics, logger *slog.Logger) *TaskNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskNotifier{
		realtime: rt,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Notify sends the change to every assignee except the actor and returns the
// number of connections reached. Offline assignees are skipped silently.
// It never fails the caller: problems are logged.
func (n *TaskNotifier) Notify(ctx context.Context, task *domain.Task, actorID string, updateType domain.UpdateType) int {
	if n == nil || task == nil {
		return 0
	}
	if !updateType.Valid() {
		n.logger.Warn("unknown task update type", "task_id", task.ID, "update_type", string(updateType))
		return 0
	}

	frame, err := protocol.Encode(protocol.EventTaskUpdated, domain.TaskNotification{
		Task:       *task,
		UpdateType: updateType,
		UpdatedBy:  actorID,
		Timestamp:  n.now(),
	})
	if err != nil {
		n.logger.Error("encode task notification", "task_id", task.ID, "error", err)
		return 0
	}

	delivered := 0
	seen := make(map[string]struct{}, len(task.Assignees))
	for _, userID := range task.Assignees {
		if userID == actorID {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		delivered += n.realtime.SendToUser(userID, frame)
	}
	n.metrics.NotificationsDelivered(string(updateType), delivered)
	logging.FromContextOr(ctx, n.logger).Debug("task notification sent",
		"task_id", task.ID, "update_type", string(updateType), "recipients", len(seen), "connections", delivered)
	return delivered
}
