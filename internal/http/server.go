// Package http provides the REST API, health and metrics endpoints, and
// mounts the WebSocket handler.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/service"
)

// Authenticator resolves a bearer token to an enabled user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Hub       *hub.Hub
	Chats     *service.ChatService
	Tasks     *service.TaskService
	Auth      Authenticator
	WebSocket echo.HandlerFunc
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server is the public HTTP server.
type Server struct {
	echo   *echo.Echo
	hub    *hub.Hub
	chats  *service.ChatService
	tasks  *service.TaskService
	auth   Authenticator
	logger *slog.Logger
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		echo:   e,
		hub:    deps.Hub,
		chats:  deps.Chats,
		tasks:  deps.Tasks,
		auth:   deps.Auth,
		logger: logger,
	}

	e.GET("/health", s.handleHealth)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}
	if deps.WebSocket != nil {
		e.GET("/ws", deps.WebSocket)
	}

	chats := e.Group("/chats", s.requireUser)
	chats.GET("", s.handleListChats)
	chats.POST("", s.handleCreateChat)
	chats.GET("/available-users", s.handleAvailableUsers)
	chats.GET("/user/:userId", s.handleDirectChat)
	chats.GET("/:id", s.handleGetChat)
	chats.GET("/:id/messages", s.handleGetMessages)

	if s.tasks != nil {
		tasks := e.Group("/tasks", s.requireUser)
		tasks.GET("/:id", s.handleGetTask)
		tasks.PUT("/:id", s.handleUpdateTask)
		tasks.PUT("/:id/assign-employees", s.handleAssignEmployees)
		tasks.POST("/:id/:status", s.handleSetTaskStatus)
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.GetConnectionCount(),
		"online":      len(s.hub.OnlineUserIDs()),
	})
}
