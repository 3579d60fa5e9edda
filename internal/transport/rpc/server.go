// Package rpc exposes the realtime hub to out-of-process task services over
// JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Realtime"

// TaskNotifier fans a task change out to its assignees.
type TaskNotifier interface {
	Notify(ctx context.Context, task *domain.Task, actorID string, updateType domain.UpdateType) int
}

// Presence reports which users are online.
type Presence interface {
	OnlineUserIDs() []string
}

// Server accepts JSON-RPC connections.
type Server struct {
	rpcServer *rpc.Server
	logger    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a new RPC server.
func NewServer(notifier TaskNotifier, presence Presence, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{notifier: notifier, presence: presence, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Realtime RPC methods.
type Handler struct {
	notifier TaskNotifier
	presence Presence
	logger   *slog.Logger
}

// NotifyTaskRequest asks the hub to announce a task change.
type NotifyTaskRequest struct {
	Task       *domain.Task      `json:"task"`
	UpdatedBy  string            `json:"updatedBy"`
	UpdateType domain.UpdateType `json:"updateType"`
}

// NotifyTaskResponse reports how many live connections were reached.
type NotifyTaskResponse struct {
	OK         bool `json:"ok"`
	Recipients int  `json:"recipients"`
}

// OnlineUsersRequest is empty.
type OnlineUsersRequest struct{}

// OnlineUsersResponse lists the online users.
type OnlineUsersResponse struct {
	OnlineUserIDs []string `json:"onlineUserIds"`
}

// NotifyTask pushes task-updated to the task's assignees except the updater.
func (h *Handler) NotifyTask(req *NotifyTaskRequest, resp *NotifyTaskResponse) error {
	if req == nil || req.Task == nil {
		return errors.New("task is required")
	}
	if req.Task.ID == "" {
		return errors.New("task.id is required")
	}
	if !req.UpdateType.Valid() {
		return errors.New("updateType must be one of details-updated, assignees-updated, status-updated")
	}

	n := h.notifier.Notify(context.Background(), req.Task, req.UpdatedBy, req.UpdateType)
	h.logger.Debug("task notification pushed", "task_id", req.Task.ID, "update_type", req.UpdateType, "recipients", n)

	if resp != nil {
		resp.OK = true
		resp.Recipients = n
	}
	return nil
}

// OnlineUsers returns the ids of users with a live connection.
func (h *Handler) OnlineUsers(_ *OnlineUsersRequest, resp *OnlineUsersResponse) error {
	ids := h.presence.OnlineUserIDs()
	if ids == nil {
		ids = []string{}
	}
	resp.OnlineUserIDs = ids
	return nil
}
