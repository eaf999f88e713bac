// Package ledger records tool executions. Records are created PENDING,
// stepped to RUNNING, and end in exactly one terminal status; a terminal
// record is never mutated again.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is an execution record's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ExecutionRecord is the audit entry for one invocation attempt.
type ExecutionRecord struct {
	ID           string
	ToolID       string
	AgentID      string
	RoleID       string // empty when the execution carried no role
	Status       Status
	Input        map[string]any
	Output       map[string]any
	ErrorMessage string
	DurationMs   int64
	CreatedAt    time.Time
}

// TerminalFields carries the payload written with a terminal transition.
type TerminalFields struct {
	Output       map[string]any
	ErrorMessage string
	DurationMs   int64
}

// ErrAlreadyTerminal is returned when a transition targets a record whose
// status is already terminal.
var ErrAlreadyTerminal = errors.New("execution record is already terminal")

// Ledger is the engine's view of execution persistence.
type Ledger interface {
	// Create persists a new record; the caller sets ID and Status.
	Create(ctx context.Context, rec *ExecutionRecord) error

	// Transition moves a non-terminal record to the given status. Fields
	// is nil for the RUNNING step and required for terminal statuses.
	Transition(ctx context.Context, id string, status Status, fields *TerminalFields) error

	// CountTerminal counts success/failed records for a tool created at
	// or after since; empty agentID/roleID leave that filter off.
	CountTerminal(ctx context.Context, toolID, agentID, roleID string, since time.Time) (int, error)
}

// ListFilter narrows and pages execution history queries.
type ListFilter struct {
	ToolID  string
	AgentID string
	RoleID  string
	Status  Status
	Offset  int
	Limit   int
}

// Stats aggregates execution outcomes, overall or for one tool.
type Stats struct {
	Total             int
	Successful        int
	Failed            int
	Pending           int
	Running           int
	SuccessRate       float64 // percent, 0 when Total is 0
	AverageDurationMs *float64
	LastExecutionAt   *time.Time
}
