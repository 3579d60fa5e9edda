// Package domain defines the core domain models for teamdesk.
package domain

// Role is a user's organisational role.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// UpdateType tags what changed on a task.
type UpdateType string

const (
	UpdateDetails   UpdateType = "details-updated"
	UpdateAssignees UpdateType = "assignees-updated"
	UpdateStatus    UpdateType = "status-updated"
)

// Valid reports whether u is a known update type.
func (u UpdateType) Valid() bool {
	switch u {
	case UpdateDetails, UpdateAssignees, UpdateStatus:
		return true
	}
	return false
}
