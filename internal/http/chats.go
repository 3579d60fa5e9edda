package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// handleListChats returns the caller's chats, newest first.
// GET /chats
func (s *Server) handleListChats(c echo.Context) error {
	chats, err := s.chats.ChatsForUser(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return s.fail(c, err, "chat")
	}
	if chats == nil {
		chats = []domain.ChatView{}
	}
	return ok(c, http.StatusOK, chats, "")
}

// handleAvailableUsers lists the users the caller can start a chat with.
// GET /chats/available-users
func (s *Server) handleAvailableUsers(c echo.Context) error {
	users, err := s.chats.AvailableUsers(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return s.fail(c, err, "user")
	}
	if users == nil {
		users = []domain.AvailableUser{}
	}
	return ok(c, http.StatusOK, users, "")
}

// GET /chats/:id
func (s *Server) handleGetChat(c echo.Context) error {
	chat, err := s.chats.GetChat(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return s.fail(c, err, "chat")
	}
	return ok(c, http.StatusOK, chat, "")
}

// GET /chats/:id/messages?limit&skip
func (s *Server) handleGetMessages(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	skip := 0
	if sk := c.QueryParam("skip"); sk != "" {
		if val, err := strconv.Atoi(sk); err == nil {
			skip = val
		}
	}

	page, err := s.chats.GetMessages(c.Request().Context(), currentUser(c).ID, c.Param("id"), limit, skip)
	if err != nil {
		return s.fail(c, err, "chat")
	}
	return ok(c, http.StatusOK, page, "")
}

// handleCreateChat finds or creates the chat for the caller plus the given
// participants.
// POST /chats
func (s *Server) handleCreateChat(c echo.Context) error {
	var req protocol.CreateChatPayload
	if err := c.Bind(&req); err != nil || req.ParticipantIDs == nil {
		return c.JSON(http.StatusBadRequest, response{Message: protocol.ErrInvalidParticipants})
	}

	chat, created, err := s.chats.CreateChat(c.Request().Context(), currentUser(c).ID, req.ParticipantIDs)
	if err != nil {
		return s.fail(c, err, "chat")
	}
	if !created {
		return ok(c, http.StatusOK, chat, "Chat already exists")
	}
	return ok(c, http.StatusCreated, chat, "Chat created successfully")
}

// handleDirectChat returns the two-person chat with userId, creating it on
// first use.
// GET /chats/user/:userId
func (s *Server) handleDirectChat(c echo.Context) error {
	chat, created, err := s.chats.DirectChat(c.Request().Context(), currentUser(c).ID, c.Param("userId"))
	if err != nil {
		return s.fail(c, err, "user")
	}
	if created {
		return ok(c, http.StatusCreated, chat, "Chat created successfully")
	}
	return ok(c, http.StatusOK, chat, "")
}
