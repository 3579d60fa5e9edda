// Package service implements chat coordination, room membership and task
// notification on top of the store and the connection hub.
package service

import (
	"context"
	"log/slog"

	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/logging"
	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/policy"
	"github.com/xiaot623/teamdesk/internal/repository"
)

// Realtime is the part of the connection hub the services drive.
type Realtime interface {
	SendToConnection(conn *hub.Connection, data []byte) bool
	SendToUser(userID string, data []byte) int
	BroadcastRoom(roomID string, data []byte) int
	JoinRoom(conn *hub.Connection, roomID string) bool
	JoinUserToRoom(userID, roomID string) int
	IsOnline(userID string) bool
	OnlineUserIDs() []string
}

var _ Realtime = (*hub.Hub)(nil)

// Deps bundles the collaborators shared by the services.
type Deps struct {
	Store     repository.Store
	Realtime  Realtime
	Directory *UserDirectory
	Policy    *policy.Engine
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// log prefers the request-scoped logger carried by ctx.
func (d Deps) log(ctx context.Context) *slog.Logger {
	return logging.FromContextOr(ctx, d.Logger)
}
