package ratelimit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRuleStore persists rate limit rules. Declaration order is the
// insertion order, kept by the position column.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a rule store backed by the given pool.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// ListRules returns a tool's rules in declaration order.
func (s *PostgresRuleStore) ListRules(ctx context.Context, toolID string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, scope, max_requests, time_window_seconds
		FROM tool_rate_limits
		WHERE tool_id = $1
		ORDER BY position
	`, toolID)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var scope string
		if err := rows.Scan(&r.ID, &r.ToolID, &scope, &r.MaxRequests, &r.WindowSeconds); err != nil {
			return nil, err
		}
		r.Scope = Scope(scope)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// AddRule appends a rule to a tool's declaration order.
func (s *PostgresRuleStore) AddRule(ctx context.Context, toolID string, scope Scope, maxRequests, windowSeconds int) (*Rule, error) {
	r := Rule{
		ID:            uuid.New().String(),
		ToolID:        toolID,
		Scope:         scope,
		MaxRequests:   maxRequests,
		WindowSeconds: windowSeconds,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_rate_limits (id, tool_id, scope, max_requests, time_window_seconds, position)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM tool_rate_limits WHERE tool_id = $2))
	`, r.ID, toolID, string(scope), maxRequests, windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("AddRule: %w", err)
	}
	return &r, nil
}

// DeleteRule removes a rule by ID.
func (s *PostgresRuleStore) DeleteRule(ctx context.Context, ruleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_rate_limits WHERE id = $1`, ruleID)
	if err != nil {
		return false, fmt.Errorf("DeleteRule: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
