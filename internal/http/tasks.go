package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/teamdesk/internal/service"
)

// UpdateTaskRequest is the body of PUT /tasks/:id. Absent fields are left
// unchanged.
type UpdateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
}

// AssignEmployeesRequest is the body of PUT /tasks/:id/assign-employees.
type AssignEmployeesRequest struct {
	Assignees []string `json:"assignees"`
}

// GET /tasks/:id
func (s *Server) handleGetTask(c echo.Context) error {
	task, err := s.tasks.Get(c.Request().Context(), currentUser(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err, "task")
	}
	return ok(c, http.StatusOK, task, "")
}

// PUT /tasks/:id
func (s *Server) handleUpdateTask(c echo.Context) error {
	var req UpdateTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, response{Message: "Invalid task data"})
	}

	task, err := s.tasks.UpdateDetails(c.Request().Context(), currentUser(c), c.Param("id"), service.TaskDetails{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return s.fail(c, err, "task")
	}
	return ok(c, http.StatusOK, task, "Success")
}

// PUT /tasks/:id/assign-employees
func (s *Server) handleAssignEmployees(c echo.Context) error {
	var req AssignEmployeesRequest
	if err := c.Bind(&req); err != nil || req.Assignees == nil {
		return c.JSON(http.StatusBadRequest, response{Message: "Invalid assignee data"})
	}

	task, err := s.tasks.AssignEmployees(c.Request().Context(), currentUser(c), c.Param("id"), req.Assignees)
	if err != nil {
		return s.fail(c, err, "task")
	}
	return ok(c, http.StatusOK, task, "Success")
}

// POST /tasks/:id/:status
func (s *Server) handleSetTaskStatus(c echo.Context) error {
	status := c.Param("status")
	task, err := s.tasks.SetStatus(c.Request().Context(), currentUser(c), c.Param("id"), status)
	if err != nil {
		return s.fail(c, err, "task")
	}
	return ok(c, http.StatusOK, task, "Task marked as "+status)
}
