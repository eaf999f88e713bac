package storage

import "time"

// EventWriter is the interface for writing execution audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ExecutionEvent)
	Close()
}

// ExecutionEvent is one terminal execution outcome to be persisted for
// analytics. The Postgres ledger row stays authoritative; this stream is
// the queryable audit/analytics feed.
type ExecutionEvent struct {
	ExecutionID  string
	ToolID       string
	ToolName     string
	ToolType     string
	AgentID      string
	RoleID       string
	Status       string // "success" or "failed"
	ErrorMessage string
	InputJSON    string
	DurationMs   int64
	Timestamp    time.Time
}
