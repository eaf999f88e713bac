package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a named grantee of tool permissions.
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// ErrRoleNameTaken is returned when a role name already exists.
var ErrRoleNameTaken = errors.New("role name already exists")

// PostgresStore persists roles and permission grants. It implements
// GrantSource for the evaluator and carries the management writes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListGrants returns the granted=true rows for a tool/role pair.
func (s *PostgresStore) ListGrants(ctx context.Context, toolID, roleID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, role_id, action, granted
		FROM tool_permissions
		WHERE tool_id = $1 AND role_id = $2 AND granted = true
	`, toolID, roleID)
	if err != nil {
		return nil, fmt.Errorf("ListGrants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

// ListToolGrants returns every grant row for a tool, granted or not.
func (s *PostgresStore) ListToolGrants(ctx context.Context, toolID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_id, role_id, action, granted
		FROM tool_permissions
		WHERE tool_id = $1
		ORDER BY role_id, action
	`, toolID)
	if err != nil {
		return nil, fmt.Errorf("ListToolGrants: %w", err)
	}
	defer rows.Close()

	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]Grant, error) {
	var grants []Grant
	for rows.Next() {
		var g Grant
		var action string
		if err := rows.Scan(&g.ID, &g.ToolID, &g.RoleID, &action, &g.Granted); err != nil {
			return nil, err
		}
		a, err := ParseAction(action)
		if err != nil {
			return nil, err
		}
		g.Action = a
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SetGrant upserts a (tool, role, action) grant row.
func (s *PostgresStore) SetGrant(ctx context.Context, toolID, roleID string, action Action, granted bool) (*Grant, error) {
	g := Grant{
		ID:      uuid.New().String(),
		ToolID:  toolID,
		RoleID:  roleID,
		Action:  action,
		Granted: granted,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tool_permissions (id, tool_id, role_id, action, granted, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tool_id, role_id, action)
			DO UPDATE SET granted = EXCLUDED.granted
		RETURNING id
	`, g.ID, toolID, roleID, action.String(), granted).Scan(&g.ID)
	if err != nil {
		return nil, fmt.Errorf("SetGrant: %w", err)
	}
	return &g, nil
}

// RevokeGrant deletes a grant row.
func (s *PostgresStore) RevokeGrant(ctx context.Context, toolID, roleID string, action Action) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_permissions
		WHERE tool_id = $1 AND role_id = $2 AND action = $3
	`, toolID, roleID, action.String())
	if err != nil {
		return false, fmt.Errorf("RevokeGrant: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateRole inserts a new role.
func (s *PostgresStore) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("CreateRole: %w", err)
	}
	if exists {
		return nil, ErrRoleNameTaken
	}

	r := Role{ID: uuid.New().String(), Name: name, Description: description}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (id, name, description, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at
	`, r.ID, name, description).Scan(&r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("CreateRole: %w", err)
	}
	return &r, nil
}

// GetRole returns a role by ID, or nil when absent.
func (s *PostgresStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	var r Role
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM roles WHERE id = $1
	`, roleID).Scan(&r.ID, &r.Name, &desc, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRole: %w", err)
	}
	r.Description = desc.String
	return &r, nil
}

// GetRoleByName returns a role by its unique name, or nil when absent.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var r Role
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM roles WHERE name = $1
	`, name).Scan(&r.ID, &r.Name, &desc, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRoleByName: %w", err)
	}
	r.Description = desc.String
	return &r, nil
}

// ListRoles returns roles ordered by name, with the unpaged total.
func (s *PostgresStore) ListRoles(ctx context.Context, offset, limit int) ([]Role, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListRoles: %w", err)
	}

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM roles
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListRoles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		r.Description = desc.String
		roles = append(roles, r)
	}
	return roles, total, rows.Err()
}
