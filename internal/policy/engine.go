// Package policy evaluates authorization decisions with OPA.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/teamdesk/internal/domain"
)

// Decision names exported by the policy package.
const (
	DecisionUserVisible = "user_visible"
	DecisionTaskAccess  = "task_access"
	DecisionTaskAssign  = "task_assign"
)

// Engine is the OPA policy engine.
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// NewEngine prepares every decision of policyContent. An empty policy uses
// DefaultPolicy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	if policyContent == "" {
		policyContent = DefaultPolicy
	}
	e := &Engine{queries: make(map[string]rego.PreparedEvalQuery)}
	for _, decision := range []string{DecisionUserVisible, DecisionTaskAccess, DecisionTaskAssign} {
		r := rego.New(
			rego.Query("data.teamdesk.authz."+decision),
			rego.Module("teamdesk.rego", policyContent),
		)
		query, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare rego %s: %w", decision, err)
		}
		e.queries[decision] = query
	}
	return e, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, "")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// UserVisible reports whether actor may see candidate in the chat directory.
func (e *Engine) UserVisible(ctx context.Context, actor, candidate *domain.User) (bool, error) {
	return e.allow(ctx, DecisionUserVisible, map[string]any{
		"actor": userInput(actor),
		"user":  userInput(candidate),
	})
}

// CanAccessTask reports whether actor may read or update task.
func (e *Engine) CanAccessTask(ctx context.Context, actor *domain.User, task *domain.Task) (bool, error) {
	return e.allow(ctx, DecisionTaskAccess, map[string]any{
		"actor": userInput(actor),
		"task":  taskInput(task),
	})
}

// CanAssignTask reports whether actor may change the task's assignees.
func (e *Engine) CanAssignTask(ctx context.Context, actor *domain.User, task *domain.Task) (bool, error) {
	return e.allow(ctx, DecisionTaskAssign, map[string]any{
		"actor": userInput(actor),
		"task":  taskInput(task),
	})
}

func (e *Engine) allow(ctx context.Context, decision string, input map[string]any) (bool, error) {
	query, ok := e.queries[decision]
	if !ok {
		return false, fmt.Errorf("unknown policy decision %q", decision)
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}

func userInput(u *domain.User) map[string]any {
	if u == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":      u.ID,
		"role":    string(u.Role),
		"enabled": u.Enabled,
	}
}

func taskInput(t *domain.Task) map[string]any {
	assignees := make([]any, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		assignees = append(assignees, a)
	}
	return map[string]any{
		"id":         t.ID,
		"created_by": t.CreatedBy,
		"assignees":  assignees,
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package teamdesk.authz

default user_visible := true

default task_access := false

task_access if input.actor.role in {"admin", "manager"}

task_access if input.actor.id in input.task.assignees

default task_assign := false

task_assign if input.actor.role in {"admin", "manager"}
`
