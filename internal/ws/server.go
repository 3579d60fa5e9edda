// Package ws provides the WebSocket endpoint for authenticated clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/teamdesk/internal/auth"
	"github.com/xiaot623/teamdesk/internal/config"
	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/hub"
	"github.com/xiaot623/teamdesk/internal/logging"
	"github.com/xiaot623/teamdesk/internal/metrics"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// Authenticator resolves a bearer token to an enabled user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Chats is the chat coordinator driven by client events.
type Chats interface {
	SyncRooms(ctx context.Context, conn *hub.Connection) ([]string, error)
	JoinRoom(ctx context.Context, conn *hub.Connection, chatID string) error
	SendMessage(ctx context.Context, actorID, chatID, content string) (*domain.MessageView, error)
	CreateChat(ctx context.Context, actorID string, participantIDs []string) (*domain.ChatView, bool, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	auth     Authenticator
	chats    Chats
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, authenticator Authenticator, chats Chats, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		auth:    authenticator,
		chats:   chats,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket authenticates the handshake, upgrades, registers the
// connection, joins its rooms and starts the pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	user, err := s.auth.Authenticate(req.Context(), auth.TokenFromRequest(req))
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			s.logger.Info("websocket handshake rejected", logging.Err(err), "remote", c.RealIP())
			return c.JSON(http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "Unauthorized"})
		}
		s.logger.Error("websocket handshake failed", logging.Err(err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"code": http.StatusInternalServerError, "message": "Internal server error"})
	}

	wsConn, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return nil
	}
	wsConn.SetReadLimit(s.cfg.MaxMessageSize)

	conn := s.hub.NewConnection(user.ID)
	logger := s.logger.With("conn_id", conn.ID, "user_id", user.ID)
	ctx := logging.ContextWithLogger(context.Background(), logger)

	if !s.hub.Register(conn) {
		wsConn.Close()
		return nil
	}
	logger.Info("websocket connected")

	go s.writePump(wsConn, conn)

	if _, err := s.chats.SyncRooms(ctx, conn); err != nil {
		logger.Error("room sync failed", logging.Err(err))
	}

	go s.readPump(ctx, wsConn, conn)
	return nil
}

// readPump reads client events until the socket fails or closes.
func (s *Server) readPump(ctx context.Context, wsConn *websocket.Conn, conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		wsConn.Close()
		logging.FromContext(ctx).Info("websocket disconnected")
	}()

	wsConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, message, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.FromContext(ctx).Warn("websocket read error", "error", err)
			}
			return
		}
		s.handleMessage(ctx, conn, message)
	}
}

// writePump drains the connection's queue onto the socket and keeps it
// alive with pings. It is the only writer on wsConn.
func (s *Server) writePump(wsConn *websocket.Conn, conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client event. Failures are reported to this
// connection only and never escape the handler.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.sendError(conn, protocol.ErrInvalidMessageData)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("event handler panicked", "event", env.Event, "panic", fmt.Sprint(r))
			s.metrics.EventHandled(env.Event, "panic")
			s.sendError(conn, failureMessage(env.Event))
		}
	}()

	switch env.Event {
	case protocol.EventSendMessage:
		err = s.handleSendMessage(ctx, conn, env.Data)
	case protocol.EventCreateChat:
		err = s.handleCreateChat(ctx, conn, env.Data)
	case protocol.EventJoinChat:
		err = s.handleJoinChat(ctx, conn, env.Data)
	default:
		s.metrics.EventHandled(env.Event, "unknown")
		s.sendError(conn, protocol.ErrUnknownEvent)
		return
	}

	if err != nil {
		kind := domain.ErrorKind(err)
		if kind == "internal" {
			logging.FromContext(ctx).Error("event failed", "event", env.Event, logging.Err(err))
		} else {
			logging.FromContext(ctx).Debug("event rejected", "event", env.Event, logging.Err(err))
		}
		s.metrics.EventHandled(env.Event, kind)
		s.sendError(conn, errorMessage(env.Event, err))
		return
	}
	s.metrics.EventHandled(env.Event, "ok")
}

func (s *Server) handleSendMessage(ctx context.Context, conn *hub.Connection, raw json.RawMessage) error {
	var payload protocol.SendMessagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.NewValidationError(protocol.ErrInvalidMessageData)
	}
	_, err := s.chats.SendMessage(ctx, conn.UserID, payload.ChatID, payload.Content)
	return err
}

func (s *Server) handleCreateChat(ctx context.Context, conn *hub.Connection, raw json.RawMessage) error {
	var payload protocol.CreateChatPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.NewValidationError(protocol.ErrInvalidParticipants)
	}
	_, _, err := s.chats.CreateChat(ctx, conn.UserID, payload.ParticipantIDs)
	return err
}

func (s *Server) handleJoinChat(ctx context.Context, conn *hub.Connection, raw json.RawMessage) error {
	chatID, err := protocol.DecodeChatID(raw)
	if err != nil {
		return domain.ErrNotFound
	}
	return s.chats.JoinRoom(ctx, conn, chatID)
}

func (s *Server) sendError(conn *hub.Connection, message string) {
	s.hub.SendToConnection(conn, protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: message}))
}

// errorMessage maps a handler error to the message shown to the client.
func errorMessage(event string, err error) string {
	var vErr *domain.ValidationError
	switch event {
	case protocol.EventSendMessage:
		switch {
		case errors.As(err, &vErr):
			return protocol.ErrInvalidMessageData
		case errors.Is(err, domain.ErrNotFound):
			return protocol.ErrChatNotFound
		case errors.Is(err, domain.ErrForbidden):
			return protocol.ErrNotAuthorizedToSend
		}
	case protocol.EventCreateChat:
		if errors.As(err, &vErr) {
			if vErr.Message == "" {
				return protocol.ErrInvalidParticipants
			}
			return vErr.Error()
		}
	case protocol.EventJoinChat:
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return protocol.ErrChatNotFound
		case errors.Is(err, domain.ErrForbidden):
			return protocol.ErrNotAuthorizedToJoin
		}
	}
	return failureMessage(event)
}

func failureMessage(event string) string {
	switch event {
	case protocol.EventSendMessage:
		return protocol.ErrFailedToSend
	case protocol.EventCreateChat:
		return protocol.ErrFailedToCreateChat
	case protocol.EventJoinChat:
		return protocol.ErrFailedToJoinChat
	}
	return protocol.ErrUnknownEvent
}
