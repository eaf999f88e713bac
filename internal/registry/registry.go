package registry

import "context"

// ToolRegistry provides tool descriptors to the execution engine.
type ToolRegistry interface {
	// GetTool returns the descriptor for a tool ID, with parameters and
	// typed configuration loaded. Returns nil if the tool does not exist.
	GetTool(ctx context.Context, toolID string) (*ToolDescriptor, error)
}
