package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresLedger persists execution records in the tool_executions table.
// Terminal immutability is enforced in SQL: transitions only match rows
// whose current status is non-terminal.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by the given connection pool.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Create(ctx context.Context, rec *ExecutionRecord) error {
	inputJSON, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("Create: marshal input: %w", err)
	}

	var roleID any
	if rec.RoleID != "" {
		roleID = rec.RoleID
	}

	err = l.db.QueryRowContext(ctx, `
		INSERT INTO tool_executions (id, tool_id, agent_id, role_id, status, input_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`, rec.ID, rec.ToolID, rec.AgentID, roleID, string(rec.Status), inputJSON).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Transition(ctx context.Context, id string, status Status, fields *TerminalFields) error {
	var res sql.Result
	var err error

	if status.Terminal() {
		if fields == nil {
			fields = &TerminalFields{}
		}
		var outputJSON any
		if fields.Output != nil {
			b, mErr := json.Marshal(fields.Output)
			if mErr != nil {
				return fmt.Errorf("Transition: marshal output: %w", mErr)
			}
			outputJSON = b
		}
		var errMsg any
		if fields.ErrorMessage != "" {
			errMsg = fields.ErrorMessage
		}
		res, err = l.db.ExecContext(ctx, `
			UPDATE tool_executions
			SET status = $2, output_data = $3, error_message = $4, execution_time_ms = $5
			WHERE id = $1 AND status NOT IN ('success', 'failed')
		`, id, string(status), outputJSON, errMsg, fields.DurationMs)
	} else {
		res, err = l.db.ExecContext(ctx, `
			UPDATE tool_executions
			SET status = $2
			WHERE id = $1 AND status NOT IN ('success', 'failed')
		`, id, string(status))
	}
	if err != nil {
		return fmt.Errorf("Transition: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Transition: %w", err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

func (l *PostgresLedger) CountTerminal(ctx context.Context, toolID, agentID, roleID string, since time.Time) (int, error) {
	where := []string{
		"tool_id = $1",
		"created_at >= $2",
		"status IN ('success', 'failed')",
	}
	args := []any{toolID, since}

	if agentID != "" {
		args = append(args, agentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if roleID != "" {
		args = append(args, roleID)
		where = append(where, fmt.Sprintf("role_id = $%d", len(args)))
	}

	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_executions WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CountTerminal: %w", err)
	}
	return count, nil
}

// Get returns one execution record, or nil when absent.
func (l *PostgresLedger) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, tool_id, agent_id, role_id, status, input_data, output_data,
		       error_message, execution_time_ms, created_at
		FROM tool_executions
		WHERE id = $1
	`, id)

	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return rec, nil
}

// List returns matching records newest first, plus the unpaged total.
func (l *PostgresLedger) List(ctx context.Context, f ListFilter) ([]*ExecutionRecord, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if f.ToolID != "" {
		args = append(args, f.ToolID)
		where = append(where, fmt.Sprintf("tool_id = $%d", len(args)))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if f.RoleID != "" {
		args = append(args, f.RoleID)
		where = append(where, fmt.Sprintf("role_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_executions WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 10
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, tool_id, agent_id, role_id, status, input_data, output_data,
		       error_message, execution_time_ms, created_at
		FROM tool_executions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var recs []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("List: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, total, rows.Err()
}

// GetStats aggregates execution outcomes; empty toolID means all tools.
func (l *PostgresLedger) GetStats(ctx context.Context, toolID string) (*Stats, error) {
	cond := "TRUE"
	args := []any{}
	if toolID != "" {
		cond = "tool_id = $1"
		args = append(args, toolID)
	}

	var s Stats
	var avg sql.NullFloat64
	var last sql.NullTime
	err := l.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'success'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'running'),
		       AVG(execution_time_ms),
		       MAX(created_at)
		FROM tool_executions
		WHERE %s
	`, cond), args...).Scan(&s.Total, &s.Successful, &s.Failed, &s.Pending, &s.Running, &avg, &last)
	if err != nil {
		return nil, fmt.Errorf("GetStats: %w", err)
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}
	if avg.Valid {
		s.AverageDurationMs = &avg.Float64
	}
	if last.Valid {
		s.LastExecutionAt = &last.Time
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var roleID, errMsg sql.NullString
	var inputJSON, outputJSON []byte
	var durationMs sql.NullInt64
	var status string

	if err := row.Scan(
		&rec.ID, &rec.ToolID, &rec.AgentID, &roleID, &status,
		&inputJSON, &outputJSON, &errMsg, &durationMs, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.RoleID = roleID.String
	rec.ErrorMessage = errMsg.String
	rec.DurationMs = durationMs.Int64

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &rec.Input); err != nil {
			return nil, fmt.Errorf("scanExecution: input_data: %w", err)
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &rec.Output); err != nil {
			return nil, fmt.Errorf("scanExecution: output_data: %w", err)
		}
	}
	return &rec, nil
}
