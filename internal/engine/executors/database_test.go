package executors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/engine"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func dbTool(cfg *registry.DatabaseConfig) *registry.ToolDescriptor {
	return &registry.ToolDescriptor{
		ID:       "tool-db",
		Name:     "run_report",
		Type:     registry.ToolTypeDatabase,
		Active:   true,
		Database: cfg,
	}
}

// fakeRows implements pgx.Rows over a fixed result set.
type fakeRows struct {
	fields []pgconn.FieldDescription
	values [][]any
	tag    pgconn.CommandTag
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(_ ...any) error    { return errors.New("not implemented") }
func (r *fakeRows) Values() ([]any, error) { return r.values[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakePool records the query it was asked to run.
type fakePool struct {
	rows     *fakeRows
	queryErr error
	gotSQL   string
	gotArgs  []any
	closed   bool
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.gotSQL = sql
	p.gotArgs = args
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.rows, nil
}

func (p *fakePool) Close() { p.closed = true }

func TestDatabaseExecutor_ValidateMissingConnString(t *testing.T) {
	ex := NewDatabaseExecutor()
	err := ex.Validate(dbTool(&registry.DatabaseConfig{QueryTemplate: "SELECT 1"}), nil)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if engine.KindOf(err) != engine.KindConfiguration {
		t.Fatalf("got kind %v", engine.KindOf(err))
	}
	if !strings.Contains(err.Error(), "connection_string") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDatabaseExecutor_ValidateMissingQueryTemplate(t *testing.T) {
	ex := NewDatabaseExecutor()
	err := ex.Validate(dbTool(&registry.DatabaseConfig{ConnString: "postgres://x"}), nil)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if !strings.Contains(err.Error(), "query template") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDatabaseExecutor_SharedPoolSkipsConnStringCheck(t *testing.T) {
	ex := &DatabaseExecutor{shared: &fakePool{}}
	if err := ex.Validate(dbTool(&registry.DatabaseConfig{QueryTemplate: "SELECT 1"}), nil); err != nil {
		t.Fatalf("shared pool should not require a connection string: %v", err)
	}
}

func TestDatabaseExecutor_RowsMode(t *testing.T) {
	pool := &fakePool{rows: &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "id"}, {Name: "total"}},
		values: [][]any{
			{int64(1), 9.5},
			{int64(2), 3.25},
		},
	}}
	ex := newDatabaseExecutorWithDialer(func(_ context.Context, _ string) (dbPool, error) {
		return pool, nil
	})

	tool := dbTool(&registry.DatabaseConfig{
		ConnString:    "postgres://x",
		QueryTemplate: "SELECT id, total FROM orders WHERE customer = @customer",
	})

	out, err := ex.Execute(context.Background(), tool, map[string]any{"customer": "c-9"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if out["row_count"] != 2 {
		t.Fatalf("got row_count %v", out["row_count"])
	}
	data := out["data"].([]map[string]any)
	if data[0]["id"] != int64(1) || data[1]["total"] != 3.25 {
		t.Fatalf("unexpected data %v", data)
	}
	if !strings.Contains(pool.gotSQL, "@customer") {
		t.Fatalf("template not passed through: %q", pool.gotSQL)
	}
	if len(pool.gotArgs) != 1 {
		t.Fatalf("expected named args, got %v", pool.gotArgs)
	}
	if !pool.closed {
		t.Fatal("dialed pool must be released")
	}
}

func TestDatabaseExecutor_AffectedMode(t *testing.T) {
	pool := &fakePool{rows: &fakeRows{
		tag: pgconn.NewCommandTag("UPDATE 3"),
	}}
	ex := newDatabaseExecutorWithDialer(func(_ context.Context, _ string) (dbPool, error) {
		return pool, nil
	})

	tool := dbTool(&registry.DatabaseConfig{
		ConnString:    "postgres://x",
		QueryTemplate: "UPDATE orders SET shipped = true WHERE id = @id",
	})

	out, err := ex.Execute(context.Background(), tool, map[string]any{"id": float64(7)}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if out["row_count"] != int64(3) {
		t.Fatalf("got row_count %v", out["row_count"])
	}
	if out["message"] != "query executed successfully" {
		t.Fatalf("got message %v", out["message"])
	}
}

func TestDatabaseExecutor_QueryErrorWrapped(t *testing.T) {
	pool := &fakePool{queryErr: errors.New("relation does not exist")}
	ex := newDatabaseExecutorWithDialer(func(_ context.Context, _ string) (dbPool, error) {
		return pool, nil
	})

	tool := dbTool(&registry.DatabaseConfig{
		ConnString:    "postgres://x",
		QueryTemplate: "SELECT * FROM missing",
	})

	_, err := ex.Execute(context.Background(), tool, map[string]any{}, time.Minute)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database query failed: relation does not exist") {
		t.Fatalf("unexpected error %v", err)
	}
	if engine.KindOf(err) != engine.KindExecution {
		t.Fatalf("got kind %v", engine.KindOf(err))
	}
	if !pool.closed {
		t.Fatal("dialed pool must be released on error")
	}
}

func TestDatabaseExecutor_DialErrorWrapped(t *testing.T) {
	ex := newDatabaseExecutorWithDialer(func(_ context.Context, _ string) (dbPool, error) {
		return nil, errors.New("connection refused")
	})

	tool := dbTool(&registry.DatabaseConfig{
		ConnString:    "postgres://x",
		QueryTemplate: "SELECT 1",
	})

	_, err := ex.Execute(context.Background(), tool, map[string]any{}, time.Minute)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database query failed: connection refused") {
		t.Fatalf("unexpected error %v", err)
	}
}
