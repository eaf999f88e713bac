package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ToolStore abstracts DB queries for testability.
type ToolStore interface {
	LookupTool(ctx context.Context, toolID string) (*toolRow, error)
	ListParameters(ctx context.Context, toolID string) ([]Parameter, error)
	ListConfigs(ctx context.Context, toolID string) (map[string]string, error)
}

type toolRow struct {
	ID          string
	Name        string
	Description sql.NullString
	Type        string
	Version     string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// sqlToolStore is the real implementation using *sql.DB.
type sqlToolStore struct {
	db *sql.DB
}

func (s *sqlToolStore) LookupTool(ctx context.Context, toolID string) (*toolRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, type, version, is_active, created_at, updated_at
		FROM tools
		WHERE id = $1
	`, toolID)

	var r toolRow
	if err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Type, &r.Version,
		&r.Active, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqlToolStore) ListParameters(ctx context.Context, toolID string) ([]Parameter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, required, description, default_value, parameter_type
		FROM tool_parameters
		WHERE tool_id = $1
		ORDER BY position, name
	`, toolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []Parameter
	for rows.Next() {
		var p Parameter
		var desc, def sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Required, &desc, &def, &p.Direction); err != nil {
			return nil, err
		}
		p.Description = desc.String
		if def.Valid {
			v := def.String
			p.Default = &v
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func (s *sqlToolStore) ListConfigs(ctx context.Context, toolID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_key, config_value
		FROM tool_configs
		WHERE tool_id = $1
	`, toolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := map[string]string{}
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value.String
	}
	return configs, rows.Err()
}

// PostgresToolRegistry serves tool descriptors from the tools tables,
// with parameters and typed configuration assembled at load and cached.
type PostgresToolRegistry struct {
	store  ToolStore
	db     *sql.DB // management writes; nil when built with a custom store
	cache  *ToolCache
	logger *zap.Logger
}

// PostgresToolRegistryConfig configures the PostgresToolRegistry.
type PostgresToolRegistryConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresToolRegistry creates a new PostgresToolRegistry.
func NewPostgresToolRegistry(cfg PostgresToolRegistryConfig) *PostgresToolRegistry {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PostgresToolRegistry{
		store:  &sqlToolStore{db: cfg.DB},
		db:     cfg.DB,
		cache:  NewToolCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresToolRegistryWithStore creates a registry with a custom store (for testing).
func newPostgresToolRegistryWithStore(store ToolStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresToolRegistry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresToolRegistry{
		store:  store,
		cache:  NewToolCache(cacheTTL),
		logger: logger,
	}
}

func (r *PostgresToolRegistry) GetTool(ctx context.Context, toolID string) (*ToolDescriptor, error) {
	cacheResult := r.cache.Get(toolID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go r.refreshInBackground(toolID)
		}
		return cacheResult.Tool, nil
	}

	// Cache miss — fetch from DB
	td, err := r.fetchFromDB(ctx, toolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Negative cache: tool not found
			r.cache.Set(toolID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetTool: %w", err)
	}

	r.cache.Set(toolID, td)
	return td, nil
}

func (r *PostgresToolRegistry) fetchFromDB(ctx context.Context, toolID string) (*ToolDescriptor, error) {
	row, err := r.store.LookupTool(ctx, toolID)
	if err != nil {
		return nil, err
	}

	params, err := r.store.ListParameters(ctx, toolID)
	if err != nil {
		return nil, err
	}
	configs, err := r.store.ListConfigs(ctx, toolID)
	if err != nil {
		return nil, err
	}

	td := &ToolDescriptor{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description.String,
		Type:        ToolType(strings.ToLower(row.Type)),
		Version:     row.Version,
		Active:      row.Active,
		Parameters:  params,
		Config:      configs,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}

	if err := decodeConfig(td); err != nil {
		return nil, err
	}
	return td, nil
}

func (r *PostgresToolRegistry) refreshInBackground(toolID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	td, err := r.fetchFromDB(ctx, toolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Set(toolID, nil)
			return
		}
		r.logger.Warn("background tool registry refresh failed",
			zap.String("tool_id", toolID),
			zap.Error(err),
		)
		return
	}
	r.cache.Set(toolID, td)
}

// --- Management writes ---

// CreateToolParams holds the fields for registering a new tool.
type CreateToolParams struct {
	Name        string
	Description string
	Type        ToolType
	Version     string
	Active      bool
}

// ErrNameTaken is returned when a tool name is already registered.
var ErrNameTaken = errors.New("tool name already exists")

// CreateTool registers a new tool and returns its descriptor.
func (r *PostgresToolRegistry) CreateTool(ctx context.Context, p CreateToolParams) (*ToolDescriptor, error) {
	if p.Version == "" {
		p.Version = "1.0.0"
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tools WHERE name = $1)`, p.Name,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}
	if exists {
		return nil, ErrNameTaken
	}

	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tools (id, name, description, type, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`, id, p.Name, p.Description, string(p.Type), p.Version, p.Active)
	if err != nil {
		return nil, fmt.Errorf("CreateTool: %w", err)
	}
	return r.fetchFromDB(ctx, id)
}

// UpdateToolParams holds optional fields for partial tool updates.
type UpdateToolParams struct {
	Name        *string
	Description *string
	Version     *string
	Active      *bool
}

// UpdateTool applies a partial update and invalidates the cache entry.
// Returns nil if the tool does not exist.
func (r *PostgresToolRegistry) UpdateTool(ctx context.Context, toolID string, p UpdateToolParams) (*ToolDescriptor, error) {
	if p.Name != nil {
		var taken bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tools WHERE name = $1 AND id <> $2)`, *p.Name, toolID,
		).Scan(&taken); err != nil {
			return nil, fmt.Errorf("UpdateTool: %w", err)
		}
		if taken {
			return nil, ErrNameTaken
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE tools SET
			name        = COALESCE($2, name),
			description = COALESCE($3, description),
			version     = COALESCE($4, version),
			is_active   = COALESCE($5, is_active),
			updated_at  = now()
		WHERE id = $1
	`, toolID, p.Name, p.Description, p.Version, p.Active)
	if err != nil {
		return nil, fmt.Errorf("UpdateTool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	r.cache.Delete(toolID)
	return r.fetchFromDB(ctx, toolID)
}

// DeactivateTool soft-deletes a tool by clearing its active flag.
func (r *PostgresToolRegistry) DeactivateTool(ctx context.Context, toolID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tools SET is_active = false, updated_at = now() WHERE id = $1`, toolID)
	if err != nil {
		return false, fmt.Errorf("DeactivateTool: %w", err)
	}
	n, _ := res.RowsAffected()
	r.cache.Delete(toolID)
	return n > 0, nil
}

// DeleteTool permanently removes a tool; parameters, configs, grants and
// rate limit rules cascade in the schema.
func (r *PostgresToolRegistry) DeleteTool(ctx context.Context, toolID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tools WHERE id = $1`, toolID)
	if err != nil {
		return false, fmt.Errorf("DeleteTool: %w", err)
	}
	n, _ := res.RowsAffected()
	r.cache.Delete(toolID)
	return n > 0, nil
}

// AddParameter appends a parameter to a tool's ordered schema.
func (r *PostgresToolRegistry) AddParameter(ctx context.Context, toolID string, p Parameter) (*Parameter, error) {
	p.ID = uuid.New().String()
	if p.Direction == "" {
		p.Direction = ParameterInput
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tool_parameters (id, tool_id, name, type, required, description, default_value, parameter_type, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM tool_parameters WHERE tool_id = $2))
	`, p.ID, toolID, p.Name, p.Type, p.Required, p.Description, p.Default, string(p.Direction))
	if err != nil {
		return nil, fmt.Errorf("AddParameter: %w", err)
	}
	r.cache.Delete(toolID)
	return &p, nil
}

// SetConfig upserts one config key for a tool.
func (r *PostgresToolRegistry) SetConfig(ctx context.Context, toolID, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tool_configs (id, tool_id, config_key, config_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tool_id, config_key) DO UPDATE SET config_value = EXCLUDED.config_value
	`, uuid.New().String(), toolID, key, value)
	if err != nil {
		return fmt.Errorf("SetConfig: %w", err)
	}
	r.cache.Delete(toolID)
	return nil
}

// DeleteConfig removes one config key from a tool.
func (r *PostgresToolRegistry) DeleteConfig(ctx context.Context, toolID, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tool_configs WHERE tool_id = $1 AND config_key = $2`, toolID, key)
	if err != nil {
		return false, fmt.Errorf("DeleteConfig: %w", err)
	}
	n, _ := res.RowsAffected()
	r.cache.Delete(toolID)
	return n > 0, nil
}

// ListToolsFilter narrows and pages ListTools results.
type ListToolsFilter struct {
	Search string
	Type   ToolType
	Active *bool
	Offset int
	Limit  int
}

// ListTools returns matching tools (without parameters/configs) plus the
// unpaged total, newest first.
func (r *PostgresToolRegistry) ListTools(ctx context.Context, f ListToolsFilter) ([]*ToolDescriptor, int, error) {
	where := []string{"TRUE"}
	args := []any{}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tools WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListTools: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 10
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, description, type, version, is_active, created_at, updated_at
		FROM tools
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTools: %w", err)
	}
	defer rows.Close()

	tools, err := scanToolRows(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTools: %w", err)
	}
	return tools, total, nil
}

// ListToolsByRole returns the tools a role can use at or above the given
// permission level, with parameters and configs loaded so the caller can
// build redacted summaries. This is the agent discovery query.
func (r *PostgresToolRegistry) ListToolsByRole(ctx context.Context, roleID string, allowedActions []string, offset, limit int) ([]*ToolDescriptor, int, error) {
	quoted := make([]string, len(allowedActions))
	for i, a := range allowedActions {
		// Actions come from the permission enum, never from user input.
		quoted[i] = "'" + a + "'"
	}
	cond := fmt.Sprintf(`
		t.is_active = true AND EXISTS (
			SELECT 1 FROM tool_permissions p
			WHERE p.tool_id = t.id AND p.role_id = $1 AND p.granted = true
			  AND p.action IN (%s)
		)`, strings.Join(quoted, ", "))

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tools t WHERE `+cond, roleID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT t.id, t.name, t.description, t.type, t.version, t.is_active, t.created_at, t.updated_at
		FROM tools t
		WHERE %s
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3
	`, cond), roleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
	}
	defer rows.Close()

	tools, err := scanToolRows(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
	}

	for _, td := range tools {
		td.Parameters, err = r.store.ListParameters(ctx, td.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
		}
		td.Config, err = r.store.ListConfigs(ctx, td.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
		}
		if err := decodeConfig(td); err != nil {
			return nil, 0, fmt.Errorf("ListToolsByRole: %w", err)
		}
	}
	return tools, total, nil
}

func scanToolRows(rows *sql.Rows) ([]*ToolDescriptor, error) {
	var tools []*ToolDescriptor
	for rows.Next() {
		var r toolRow
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.Type, &r.Version,
			&r.Active, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tools = append(tools, &ToolDescriptor{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description.String,
			Type:        ToolType(strings.ToLower(r.Type)),
			Version:     r.Version,
			Active:      r.Active,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return tools, rows.Err()
}
