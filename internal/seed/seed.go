// Package seed loads development fixtures (users and tasks) from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/repository"
)

// Fixture is the document layout.
type Fixture struct {
	Users []User `yaml:"users"`
	Tasks []Task `yaml:"tasks"`
}

// User is a seeded account. Enabled defaults to true.
type User struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Email   string      `yaml:"email"`
	Role    domain.Role `yaml:"role"`
	Enabled *bool       `yaml:"enabled"`
}

// Task is a seeded task.
type Task struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	DueDate     *time.Time `yaml:"dueDate"`
	Done        bool       `yaml:"done"`
	CreatedBy   string     `yaml:"createdBy"`
	Assignees   []string   `yaml:"assignees"`
}

// Result counts what Apply wrote.
type Result struct {
	Users        int
	TasksCreated int
	TasksSkipped int
}

// LoadFile reads and validates a fixture file.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a fixture.
func Load(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks ids, roles and that tasks only reference seeded users.
func (fx *Fixture) Validate() error {
	verr := domain.NewValidationError("invalid seed data")
	users := make(map[string]bool, len(fx.Users))
	for i, u := range fx.Users {
		id := strings.TrimSpace(u.ID)
		switch {
		case id == "":
			verr.Field(fmt.Sprintf("users[%d].id", i), "required")
		case users[id]:
			verr.Field(fmt.Sprintf("users[%d].id", i), "duplicate "+id)
		}
		if u.Role == "" {
			u.Role = domain.RoleEmployee
		}
		if !u.Role.Valid() {
			verr.Field(fmt.Sprintf("users[%d].role", i), "unknown role "+string(u.Role))
		}
		users[id] = true
	}

	tasks := make(map[string]bool, len(fx.Tasks))
	for i, t := range fx.Tasks {
		if t.ID == "" {
			verr.Field(fmt.Sprintf("tasks[%d].id", i), "required")
		} else if tasks[t.ID] {
			verr.Field(fmt.Sprintf("tasks[%d].id", i), "duplicate "+t.ID)
		}
		tasks[t.ID] = true
		if strings.TrimSpace(t.Title) == "" {
			verr.Field(fmt.Sprintf("tasks[%d].title", i), "required")
		}
		for _, a := range t.Assignees {
			if !users[a] {
				verr.MissingIDs = append(verr.MissingIDs, a)
			}
		}
	}

	if len(verr.FieldErrors) > 0 || len(verr.MissingIDs) > 0 {
		return verr
	}
	return nil
}

// Apply upserts the users and creates tasks that do not exist yet.
func Apply(ctx context.Context, store repository.Store, fx *Fixture) (Result, error) {
	var res Result
	now := time.Now().UTC()

	for _, u := range fx.Users {
		role := u.Role
		if role == "" {
			role = domain.RoleEmployee
		}
		enabled := u.Enabled == nil || *u.Enabled
		user := &domain.User{
			ID:        strings.TrimSpace(u.ID),
			Name:      u.Name,
			Email:     u.Email,
			Role:      role,
			Enabled:   enabled,
			CreatedAt: now,
		}
		if user.Name == "" {
			user.Name = user.ID
		}
		if err := store.UpsertUser(ctx, user); err != nil {
			return res, fmt.Errorf("seed user %s: %w", user.ID, err)
		}
		res.Users++
	}

	for _, t := range fx.Tasks {
		if _, err := store.GetTask(ctx, t.ID); err == nil {
			res.TasksSkipped++
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return res, fmt.Errorf("seed task %s: %w", t.ID, err)
		}
		task := &domain.Task{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			DueDate:     t.DueDate,
			Done:        t.Done,
			CreatedBy:   t.CreatedBy,
			Assignees:   domain.NormalizeParticipants("", t.Assignees),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateTask(ctx, task); err != nil {
			return res, fmt.Errorf("seed task %s: %w", t.ID, err)
		}
		res.TasksCreated++
	}
	return res, nil
}
