package engine

import (
	"context"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/registry"
)

// Executor is the interface every tool-type adapter must implement.
// Implementations synthesize a protocol-level request from the tool's
// typed configuration and the caller's input payload, then dispatch it.
type Executor interface {
	// Type returns the descriptor type tag this executor handles.
	Type() registry.ToolType

	// Validate runs the pre-flight checks that must fail before any
	// execution record exists: configuration completeness and input
	// requirements such as endpoint path parameters. Must not touch the
	// network. Errors carry KindValidation or KindConfiguration.
	Validate(tool *registry.ToolDescriptor, input map[string]any) error

	// Execute dispatches the synthesized request and returns the output
	// payload. The context carries the execution deadline; timeout is
	// the same bound in duration form for error messages and transports
	// that take an explicit value. Errors carry KindExecution.
	Execute(ctx context.Context, tool *registry.ToolDescriptor, input map[string]any, timeout time.Duration) (map[string]any, error)
}

// ExecutorSet is the registration table mapping tool type tags to
// executors. New adapter types plug in here without orchestrator changes.
type ExecutorSet map[registry.ToolType]Executor

// NewExecutorSet builds the table from the given executors.
func NewExecutorSet(executors ...Executor) ExecutorSet {
	set := make(ExecutorSet, len(executors))
	for _, ex := range executors {
		set[ex.Type()] = ex
	}
	return set
}
