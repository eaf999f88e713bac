// Package permission implements role-based access checks over per-tool
// permission grants. Actions form a total order: READ < EXECUTE < MANAGE;
// holding a higher action implies every lower one.
package permission

import (
	"context"
	"fmt"
)

// Action is a permission level in the READ < EXECUTE < MANAGE hierarchy.
// The zero value is invalid.
type Action int

const (
	ActionRead Action = iota + 1
	ActionExecute
	ActionManage
)

// String returns the wire/storage form of the action.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionExecute:
		return "execute"
	case ActionManage:
		return "manage"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Covers reports whether holding a satisfies a requirement for required.
func (a Action) Covers(required Action) bool {
	return a >= required
}

// ParseAction converts a storage string into an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "read":
		return ActionRead, nil
	case "execute":
		return ActionExecute, nil
	case "manage":
		return ActionManage, nil
	}
	return 0, fmt.Errorf("unknown permission action %q", s)
}

// AtOrAbove returns the storage strings of every action that covers a,
// for SQL IN filters.
func (a Action) AtOrAbove() []string {
	var out []string
	for act := a; act <= ActionManage; act++ {
		out = append(out, act.String())
	}
	return out
}

// Grant is one (tool, role, action, granted) fact.
type Grant struct {
	ID      string
	ToolID  string
	RoleID  string
	Action  Action
	Granted bool
}

// GrantSource lists the granted=true permission rows for a tool/role pair.
type GrantSource interface {
	ListGrants(ctx context.Context, toolID, roleID string) ([]Grant, error)
}

// Evaluator answers permission questions from a GrantSource. Stateless;
// a denial is an ordinary false, never an error.
type Evaluator struct {
	grants GrantSource
}

// NewEvaluator creates an Evaluator over the given grant source.
func NewEvaluator(grants GrantSource) *Evaluator {
	return &Evaluator{grants: grants}
}

// HasPermission reports whether the role holds required (or a covering
// action) on the tool. No grants at all means false.
func (e *Evaluator) HasPermission(ctx context.Context, toolID, roleID string, required Action) (bool, error) {
	grants, err := e.grants.ListGrants(ctx, toolID, roleID)
	if err != nil {
		return false, fmt.Errorf("HasPermission: %w", err)
	}

	for _, g := range grants {
		if g.Granted && g.Action.Covers(required) {
			return true, nil
		}
	}
	return false, nil
}
