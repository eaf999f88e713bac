// Package agents manages agent identities: a named caller bound to a
// role, authenticated by an ak_ API key. The key is bcrypt-hashed; its
// first eight characters are stored in clear for lookup.
package agents

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Agent represents a row in the agents table.
type Agent struct {
	ID           string
	Name         string
	RoleID       string
	APIKeyHash   string
	APIKeyPrefix string
	Active       bool
	CreatedAt    time.Time
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrAgentNameTaken is returned when an agent name already exists.
var ErrAgentNameTaken = errors.New("agent name already exists")

// GenerateAPIKey creates a new ak_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "ak_" + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8]
	return fullKey, string(hashBytes), prefix, nil
}

// Store persists agents in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAgent inserts a new agent and returns it with the plaintext API
// key (shown once, never stored).
func (s *Store) CreateAgent(ctx context.Context, name, roleID string) (*Agent, string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE name = $1)`, name,
	).Scan(&exists); err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}
	if exists {
		return nil, "", ErrAgentNameTaken
	}

	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}

	a := Agent{
		ID:           uuid.New().String(),
		Name:         name,
		RoleID:       roleID,
		APIKeyHash:   keyHash,
		APIKeyPrefix: keyPrefix,
		Active:       true,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agents (id, name, role_id, api_key_hash, api_key_prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
		RETURNING created_at
	`, a.ID, a.Name, a.RoleID, a.APIKeyHash, a.APIKeyPrefix).Scan(&a.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAgent: %w", err)
	}
	return &a, fullKey, nil
}

// LookupByPrefix returns the agent whose key prefix matches, or nil.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role_id, api_key_hash, api_key_prefix, is_active, created_at
		FROM agents
		WHERE api_key_prefix = $1
	`, prefix).Scan(&a.ID, &a.Name, &a.RoleID, &a.APIKeyHash, &a.APIKeyPrefix, &a.Active, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &a, nil
}

// Authenticate verifies an ak_ API key and returns the active agent it
// belongs to.
func (s *Store) Authenticate(ctx context.Context, token string) (*Agent, error) {
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}

	agent, err := s.LookupByPrefix(ctx, token[:8])
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}
	if agent == nil || !agent.Active {
		return nil, ErrUnauthenticated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.APIKeyHash), []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}
	return agent, nil
}

// ListAgents returns agents ordered by name, with the unpaged total.
func (s *Store) ListAgents(ctx context.Context, offset, limit int) ([]Agent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListAgents: %w", err)
	}

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, role_id, api_key_hash, api_key_prefix, is_active, created_at
		FROM agents
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListAgents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.RoleID, &a.APIKeyHash, &a.APIKeyPrefix, &a.Active, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// DeactivateAgent revokes an agent's access without deleting its history.
func (s *Store) DeactivateAgent(ctx context.Context, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_active = false WHERE id = $1`, agentID)
	if err != nil {
		return false, fmt.Errorf("DeactivateAgent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
