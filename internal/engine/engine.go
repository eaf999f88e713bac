// Package engine orchestrates tool executions: authorization, rate-limit
// admission, pre-flight validation, the PENDING→RUNNING→terminal record
// lifecycle, and dispatch to the tool-type executor.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"github.com/Kwasi-itc/tools-module/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine ties the permission evaluator, rate limiter, executors and
// ledger into the execution pipeline. It holds no per-call mutable state;
// every invocation is independent.
type Engine struct {
	registry  registry.ToolRegistry
	perms     *permission.Evaluator
	limiter   *ratelimit.Limiter
	ledger    ledger.Ledger
	executors ExecutorSet
	events    storage.EventWriter
	timeout   time.Duration
	logger    *zap.Logger
}

// Config assembles an Engine's collaborators.
type Config struct {
	Registry  registry.ToolRegistry
	Perms     *permission.Evaluator
	Limiter   *ratelimit.Limiter
	Ledger    ledger.Ledger
	Executors ExecutorSet
	Events    storage.EventWriter
	Timeout   time.Duration // per-execution dispatch bound
	Logger    *zap.Logger
}

// New creates an Engine. A zero Timeout defaults to 30 seconds.
func New(cfg Config) *Engine {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		registry:  cfg.Registry,
		perms:     cfg.Perms,
		limiter:   cfg.Limiter,
		ledger:    cfg.Ledger,
		executors: cfg.Executors,
		events:    cfg.Events,
		timeout:   timeout,
		logger:    cfg.Logger,
	}
}

// Execute runs one tool invocation end to end.
//
// Failures before admission — unknown tool, inactive tool, permission
// denial, rate limit, pre-flight validation — return an *Error and leave
// no record. Once the PENDING record exists a terminal record is
// guaranteed: executor failures land as a FAILED record, returned with a
// nil error so callers read the outcome from the record itself.
func (e *Engine) Execute(ctx context.Context, toolID, agentID, roleID string, input map[string]any) (*ledger.ExecutionRecord, error) {
	tool, err := e.registry.GetTool(ctx, toolID)
	if err != nil {
		return nil, WrapErr(KindExecution, err)
	}
	if tool == nil {
		return nil, Errf(KindNotFound, "tool with id %q not found", toolID)
	}
	if !tool.Active {
		return nil, Errf(KindInactiveTool, "tool %q is not active", tool.Name)
	}

	allowed, err := e.perms.HasPermission(ctx, toolID, roleID, permission.ActionExecute)
	if err != nil {
		return nil, WrapErr(KindExecution, err)
	}
	if !allowed {
		return nil, Errf(KindPermissionDenied,
			"role does not have EXECUTE permission for tool %q", tool.Name)
	}

	decision, err := e.limiter.Admit(ctx, toolID, agentID, roleID)
	if err != nil {
		return nil, WrapErr(KindExecution, err)
	}
	if !decision.Allowed {
		return nil, Errf(KindRateLimitExceeded, "rate limit exceeded: %s", decision.Reason)
	}

	executor, ok := e.executors[tool.Type]
	if !ok {
		return nil, Errf(KindConfiguration, "unsupported tool type %q", tool.Type)
	}
	if err := executor.Validate(tool, input); err != nil {
		return nil, err
	}
	if tool.InputSchema != nil {
		if err := validateInput(tool, input); err != nil {
			return nil, err
		}
	}

	// Admission passed: from here a terminal record is guaranteed.
	rec := &ledger.ExecutionRecord{
		ID:      uuid.New().String(),
		ToolID:  toolID,
		AgentID: agentID,
		RoleID:  roleID,
		Status:  ledger.StatusPending,
		Input:   input,
	}
	if err := e.ledger.Create(ctx, rec); err != nil {
		return nil, WrapErr(KindExecution, err)
	}

	if err := e.ledger.Transition(ctx, rec.ID, ledger.StatusRunning, nil); err != nil {
		return nil, WrapErr(KindExecution, err)
	}
	rec.Status = ledger.StatusRunning

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	output, execErr := executor.Execute(execCtx, tool, input, e.timeout)
	rec.DurationMs = time.Since(start).Milliseconds()

	fields := &ledger.TerminalFields{DurationMs: rec.DurationMs}
	if execErr != nil {
		rec.Status = ledger.StatusFailed
		rec.ErrorMessage = execErr.Error()
		fields.ErrorMessage = rec.ErrorMessage
	} else {
		rec.Status = ledger.StatusSuccess
		rec.Output = output
		fields.Output = output
	}

	if err := e.ledger.Transition(ctx, rec.ID, rec.Status, fields); err != nil {
		e.logger.Error("terminal transition failed",
			zap.String("execution_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
		return nil, WrapErr(KindExecution, err)
	}

	e.emitEvent(rec, tool)
	return rec, nil
}

// validateInput checks the payload against the tool's compiled
// input_schema. Runs before any record exists.
func validateInput(tool *registry.ToolDescriptor, input map[string]any) error {
	// Round-trip through JSON so the schema library sees the same value
	// shapes a decoded request body would carry.
	b, err := json.Marshal(input)
	if err != nil {
		return Errf(KindValidation, "input payload is not JSON-encodable: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Errf(KindValidation, "input payload is not JSON-encodable: %v", err)
	}
	if err := tool.InputSchema.Validate(v); err != nil {
		return Errf(KindValidation, "input schema validation failed: %v", err)
	}
	return nil
}

// emitEvent writes the terminal outcome to the audit event stream.
// Fire-and-forget: the writer never blocks the caller.
func (e *Engine) emitEvent(rec *ledger.ExecutionRecord, tool *registry.ToolDescriptor) {
	if e.events == nil {
		return
	}
	inputJSON, _ := json.Marshal(rec.Input)
	e.events.Write(&storage.ExecutionEvent{
		ExecutionID:  rec.ID,
		ToolID:       rec.ToolID,
		ToolName:     tool.Name,
		ToolType:     string(tool.Type),
		AgentID:      rec.AgentID,
		RoleID:       rec.RoleID,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		InputJSON:    string(inputJSON),
		DurationMs:   rec.DurationMs,
		Timestamp:    time.Now(),
	})
}
