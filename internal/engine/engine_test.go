package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"github.com/Kwasi-itc/tools-module/internal/storage"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

// --- Fakes ---

type fakeRegistry struct {
	tools map[string]*registry.ToolDescriptor
	err   error
}

func (f *fakeRegistry) GetTool(_ context.Context, toolID string) (*registry.ToolDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tools[toolID], nil
}

type staticGrants struct {
	grants []permission.Grant
}

func (s *staticGrants) ListGrants(_ context.Context, toolID, roleID string) ([]permission.Grant, error) {
	var out []permission.Grant
	for _, g := range s.grants {
		if g.ToolID == toolID && g.RoleID == roleID {
			out = append(out, g)
		}
	}
	return out, nil
}

type staticRules struct {
	rules []ratelimit.Rule
}

func (s *staticRules) ListRules(_ context.Context, _ string) ([]ratelimit.Rule, error) {
	return s.rules, nil
}

// memLedger is an in-memory Ledger that records every status a record
// passes through.
type memLedger struct {
	mu       sync.Mutex
	records  map[string]*ledger.ExecutionRecord
	statuses map[string][]ledger.Status
	creates  int
}

func newMemLedger() *memLedger {
	return &memLedger{
		records:  map[string]*ledger.ExecutionRecord{},
		statuses: map[string][]ledger.Status{},
	}
}

func (m *memLedger) Create(_ context.Context, rec *ledger.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	stored := *rec
	m.records[rec.ID] = &stored
	m.statuses[rec.ID] = append(m.statuses[rec.ID], rec.Status)
	return nil
}

func (m *memLedger) Transition(_ context.Context, id string, status ledger.Status, fields *ledger.TerminalFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return errors.New("record not found")
	}
	if rec.Status.Terminal() {
		return ledger.ErrAlreadyTerminal
	}
	rec.Status = status
	if fields != nil {
		rec.Output = fields.Output
		rec.ErrorMessage = fields.ErrorMessage
		rec.DurationMs = fields.DurationMs
	}
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memLedger) CountTerminal(_ context.Context, toolID, _, _ string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.ToolID == toolID && rec.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

type fakeExecutor struct {
	typeTag     registry.ToolType
	validateErr error
	output      map[string]any
	execErr     error
	calls       int
}

func (f *fakeExecutor) Type() registry.ToolType { return f.typeTag }

func (f *fakeExecutor) Validate(_ *registry.ToolDescriptor, _ map[string]any) error {
	return f.validateErr
}

func (f *fakeExecutor) Execute(_ context.Context, _ *registry.ToolDescriptor, _ map[string]any, _ time.Duration) (map[string]any, error) {
	f.calls++
	if f.execErr != nil {
		return nil, f.execErr
	}
	return f.output, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*storage.ExecutionEvent
}

func (m *memEvents) Write(e *storage.ExecutionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memEvents) Close() {}

func mustCompileSchema(t *testing.T, raw string) *jsonschema.Schema {
	t.Helper()
	var obj any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		t.Fatal(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", obj); err != nil {
		t.Fatal(err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		t.Fatal(err)
	}
	return sch
}

// --- Test rig ---

type rig struct {
	engine   *Engine
	registry *fakeRegistry
	ledger   *memLedger
	executor *fakeExecutor
	events   *memEvents
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	reg := &fakeRegistry{tools: map[string]*registry.ToolDescriptor{
		"tool-1": {
			ID:     "tool-1",
			Name:   "get_user",
			Type:   registry.ToolTypeHTTP,
			Active: true,
			HTTP:   &registry.HTTPConfig{BaseURL: "https://api.example.com", Endpoint: "/users"},
		},
	}}
	led := newMemLedger()
	exec := &fakeExecutor{
		typeTag: registry.ToolTypeHTTP,
		output:  map[string]any{"status_code": 200},
	}
	events := &memEvents{}

	eng := New(Config{
		Registry: reg,
		Perms: permission.NewEvaluator(&staticGrants{grants: []permission.Grant{
			{ToolID: "tool-1", RoleID: "role-1", Action: permission.ActionExecute, Granted: true},
		}}),
		Limiter:   ratelimit.NewLimiter(&staticRules{}, led),
		Ledger:    led,
		Executors: NewExecutorSet(exec),
		Events:    events,
		Timeout:   time.Second,
		Logger:    logger,
	})

	return &rig{engine: eng, registry: reg, ledger: led, executor: exec, events: events}
}

// --- Tests ---

func TestExecute_Success(t *testing.T) {
	r := newRig(t)

	rec, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1",
		map[string]any{"id": "7"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ledger.StatusSuccess {
		t.Fatalf("got status %s", rec.Status)
	}
	if rec.Output["status_code"] != 200 {
		t.Fatalf("got output %v", rec.Output)
	}

	statuses := r.ledger.statuses[rec.ID]
	want := []ledger.Status{ledger.StatusPending, ledger.StatusRunning, ledger.StatusSuccess}
	if len(statuses) != len(want) {
		t.Fatalf("got lifecycle %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("got lifecycle %v, want %v", statuses, want)
		}
	}

	if len(r.events.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(r.events.events))
	}
	ev := r.events.events[0]
	if ev.Status != "success" || ev.ToolName != "get_user" || ev.AgentID != "agent-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestExecute_ExecutorFailureReturnsFailedRecord(t *testing.T) {
	r := newRig(t)
	r.executor.execErr = Errf(KindExecution, "request failed: connection refused")

	rec, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if err != nil {
		t.Fatalf("executor failure must not surface as an error: %v", err)
	}
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("got status %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "connection refused") {
		t.Fatalf("got error message %q", rec.ErrorMessage)
	}
	if rec.Output != nil {
		t.Fatalf("failed record must carry no output, got %v", rec.Output)
	}
	if len(r.events.events) != 1 || r.events.events[0].Status != "failed" {
		t.Fatal("expected failed audit event")
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r := newRig(t)

	_, err := r.engine.Execute(context.Background(), "missing", "agent-1", "role-1", nil)
	if KindOf(err) != KindNotFound {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 {
		t.Fatal("no record may exist for an unknown tool")
	}
}

func TestExecute_RegistryErrorIsExecutionKind(t *testing.T) {
	r := newRig(t)
	r.registry.err = errors.New("store unavailable")

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindExecution {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 {
		t.Fatal("no record may exist when the tool cannot be loaded")
	}
}

func TestExecute_InactiveTool(t *testing.T) {
	r := newRig(t)
	r.registry.tools["tool-1"].Active = false

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindInactiveTool {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 {
		t.Fatal("no record may exist for an inactive tool")
	}
}

func TestExecute_PermissionDenied(t *testing.T) {
	r := newRig(t)

	// role-2 holds no grants
	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-2", nil)
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 || r.executor.calls != 0 {
		t.Fatal("denied execution must leave no record and dispatch nothing")
	}
}

func TestExecute_GrantForOtherToolDoesNotApply(t *testing.T) {
	r := newRig(t)
	r.registry.tools["tool-2"] = &registry.ToolDescriptor{
		ID: "tool-2", Name: "delete_user", Type: registry.ToolTypeHTTP, Active: true,
	}

	// role-1 is granted EXECUTE on tool-1 only.
	_, err := r.engine.Execute(context.Background(), "tool-2", "agent-1", "role-1", nil)
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 || r.executor.calls != 0 {
		t.Fatal("denied execution must leave no record and dispatch nothing")
	}
}

func TestExecute_ReadGrantDoesNotAllowExecute(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	led := newMemLedger()
	exec := &fakeExecutor{typeTag: registry.ToolTypeHTTP, output: map[string]any{}}
	eng := New(Config{
		Registry: &fakeRegistry{tools: map[string]*registry.ToolDescriptor{
			"tool-1": {ID: "tool-1", Name: "t", Type: registry.ToolTypeHTTP, Active: true},
		}},
		Perms: permission.NewEvaluator(&staticGrants{grants: []permission.Grant{
			{ToolID: "tool-1", RoleID: "role-1", Action: permission.ActionRead, Granted: true},
		}}),
		Limiter:   ratelimit.NewLimiter(&staticRules{}, led),
		Ledger:    led,
		Executors: NewExecutorSet(exec),
		Logger:    logger,
	})

	_, err := eng.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindPermissionDenied {
		t.Fatalf("got %v", err)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	r := newRig(t)

	lim := ratelimit.NewLimiter(&staticRules{rules: []ratelimit.Rule{
		{Scope: ratelimit.ScopeGlobal, MaxRequests: 1, WindowSeconds: 3600},
	}}, r.ledger)
	r.engine.limiter = lim

	// First execution lands a terminal record.
	if _, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil); err != nil {
		t.Fatal(err)
	}

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindRateLimitExceeded {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "Global rate limit exceeded: 1 requests per 3600 seconds") {
		t.Fatalf("got message %q", err.Error())
	}
	if r.ledger.creates != 1 {
		t.Fatal("denied execution must create no record")
	}
}

func TestExecute_PreflightValidationLeavesNoRecord(t *testing.T) {
	r := newRig(t)
	r.executor.validateErr = Errf(KindValidation, "missing required path parameter \"id\"")

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindValidation {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 || r.executor.calls != 0 {
		t.Fatal("pre-flight failure must leave no record and dispatch nothing")
	}
}

func TestExecute_InputSchemaEnforcedBeforeRecord(t *testing.T) {
	r := newRig(t)

	r.registry.tools["tool-1"].InputSchema = mustCompileSchema(t, `{"type":"object","required":["id"]}`)

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", map[string]any{})
	if KindOf(err) != KindValidation {
		t.Fatalf("got %v", err)
	}
	if r.ledger.creates != 0 {
		t.Fatal("schema violation must leave no record")
	}

	rec, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", map[string]any{"id": "7"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != ledger.StatusSuccess {
		t.Fatalf("got status %s", rec.Status)
	}
}

func TestExecute_UnsupportedToolType(t *testing.T) {
	r := newRig(t)
	r.registry.tools["tool-1"].Type = "grpc"

	_, err := r.engine.Execute(context.Background(), "tool-1", "agent-1", "role-1", nil)
	if KindOf(err) != KindConfiguration {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported tool type") {
		t.Fatalf("got message %q", err.Error())
	}
	if r.ledger.creates != 0 {
		t.Fatal("unsupported type must leave no record")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(Errf(KindNotFound, "x")) != KindNotFound {
		t.Fatal("direct kind lost")
	}
	wrapped := WrapErr(KindExecution, errors.New("cause"))
	if KindOf(wrapped) != KindExecution {
		t.Fatal("wrapped kind lost")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatal("plain error should be unknown")
	}
}
