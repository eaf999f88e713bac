package executors

import (
	"context"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/engine"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPool is the subset of pgxpool.Pool the executor needs; narrowed so
// tests can substitute a fake.
type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// DatabaseExecutor runs parameterized query tools. The query template
// uses named parameters (@name) bound from the input payload. A shared
// pool supplied at construction is reused and never closed; otherwise a
// pool is dialed per execution and released on every exit path.
type DatabaseExecutor struct {
	shared  dbPool
	connect func(ctx context.Context, connString string) (dbPool, error)
}

// NewDatabaseExecutor creates an executor that dials the tool's
// connection string per execution.
func NewDatabaseExecutor() *DatabaseExecutor {
	return &DatabaseExecutor{connect: dialPool}
}

// NewDatabaseExecutorWithPool creates an executor that reuses the given
// pool for every tool, ignoring per-tool connection strings.
func NewDatabaseExecutorWithPool(pool *pgxpool.Pool) *DatabaseExecutor {
	return &DatabaseExecutor{shared: pool}
}

// newDatabaseExecutorWithDialer creates an executor with a custom dialer (for testing).
func newDatabaseExecutorWithDialer(connect func(ctx context.Context, connString string) (dbPool, error)) *DatabaseExecutor {
	return &DatabaseExecutor{connect: connect}
}

func dialPool(ctx context.Context, connString string) (dbPool, error) {
	return pgxpool.New(ctx, connString)
}

func (e *DatabaseExecutor) Type() registry.ToolType {
	return registry.ToolTypeDatabase
}

// Validate checks the configuration carries a connection string and a
// query template. Both faults are fatal and never retried.
func (e *DatabaseExecutor) Validate(tool *registry.ToolDescriptor, _ map[string]any) error {
	cfg := tool.Database
	if cfg == nil {
		return engine.Errf(engine.KindConfiguration, "tool %q has no database configuration", tool.Name)
	}
	if e.shared == nil && cfg.ConnString == "" {
		return engine.Errf(engine.KindConfiguration,
			"database connection_string not configured for this tool")
	}
	if cfg.QueryTemplate == "" {
		return engine.Errf(engine.KindConfiguration,
			"query template not configured for this tool")
	}
	return nil
}

func (e *DatabaseExecutor) Execute(ctx context.Context, tool *registry.ToolDescriptor, input map[string]any, _ time.Duration) (map[string]any, error) {
	cfg := tool.Database

	pool := e.shared
	if pool == nil {
		dialed, err := e.connect(ctx, cfg.ConnString)
		if err != nil {
			return nil, engine.Errf(engine.KindExecution, "database query failed: %v", err)
		}
		defer dialed.Close()
		pool = dialed
	}

	rows, err := pool.Query(ctx, cfg.QueryTemplate, pgx.NamedArgs(input))
	if err != nil {
		return nil, engine.Errf(engine.KindExecution, "database query failed: %v", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if len(fields) > 0 {
		results := make([]map[string]any, 0)
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, engine.Errf(engine.KindExecution, "database query failed: %v", err)
			}
			row := make(map[string]any, len(fields))
			for i, fd := range fields {
				row[fd.Name] = values[i]
			}
			results = append(results, row)
		}
		if err := rows.Err(); err != nil {
			return nil, engine.Errf(engine.KindExecution, "database query failed: %v", err)
		}
		return map[string]any{
			"row_count": len(results),
			"data":      results,
		}, nil
	}

	// Statement returned no row set — report the affected count.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, engine.Errf(engine.KindExecution, "database query failed: %v", err)
	}
	return map[string]any{
		"row_count": rows.CommandTag().RowsAffected(),
		"message":   "query executed successfully",
	}, nil
}
