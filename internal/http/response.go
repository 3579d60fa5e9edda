package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/teamdesk/internal/auth"
	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/logging"
)

const userKey = "user"

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func ok(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, response{Success: true, Data: data, Message: message})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "Unauthorized"})
}

// fail maps err onto the status taxonomy. resource names the thing being
// looked up so not-found and forbidden messages read naturally.
func (s *Server) fail(c echo.Context, err error, resource string) error {
	var vErr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return unauthorized(c)
	case errors.As(err, &vErr):
		return c.JSON(http.StatusBadRequest, response{Message: vErr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, response{Message: capitalize(resource) + " not found"})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, response{Message: "Not authorized to access this " + resource})
	}
	logging.FromContextOr(c.Request().Context(), s.logger).Error("request failed",
		"method", c.Request().Method, "path", c.Path(), logging.Err(err))
	return c.JSON(http.StatusInternalServerError, response{Message: "Internal server error"})
}

func capitalize(s string) string {
	if s == "" {
		return "Resource"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// requireUser authenticates the bearer token and stores the user on the
// echo context and a request-scoped logger on the request context.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		user, err := s.auth.Authenticate(req.Context(), auth.TokenFromRequest(req))
		if err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				return unauthorized(c)
			}
			return s.fail(c, err, "user")
		}

		logger := s.logger.With(
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"user_id", user.ID,
		)
		c.SetRequest(req.WithContext(logging.ContextWithLogger(req.Context(), logger)))
		c.Set(userKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *domain.User {
	u, _ := c.Get(userKey).(*domain.User)
	return u
}
