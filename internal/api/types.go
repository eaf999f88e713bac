package api

import (
	"time"

	"github.com/Kwasi-itc/tools-module/internal/agents"
	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
)

// ErrorResp is the uniform error payload.
type ErrorResp struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}

// --- Executions ---

type executeRequest struct {
	Input map[string]any `json:"input"`
}

type executionResponse struct {
	ID           string         `json:"id"`
	ToolID       string         `json:"tool_id"`
	AgentID      string         `json:"agent_id"`
	RoleID       string         `json:"role_id,omitempty"`
	Status       string         `json:"status"`
	Input        map[string]any `json:"input_data"`
	Output       map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMs   int64          `json:"execution_time_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

func toExecutionResponse(rec *ledger.ExecutionRecord) executionResponse {
	return executionResponse{
		ID:           rec.ID,
		ToolID:       rec.ToolID,
		AgentID:      rec.AgentID,
		RoleID:       rec.RoleID,
		Status:       string(rec.Status),
		Input:        rec.Input,
		Output:       rec.Output,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
		CreatedAt:    rec.CreatedAt,
	}
}

type executionListResponse struct {
	Executions []executionResponse `json:"executions"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}

// --- Tools ---

type createToolRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Version     string `json:"version"`
	Active      *bool  `json:"is_active"`
}

type updateToolRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Version     *string `json:"version"`
	Active      *bool   `json:"is_active"`
}

type parameterRequest struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Required    bool    `json:"required"`
	Description string  `json:"description"`
	Default     *string `json:"default_value"`
	Direction   string  `json:"parameter_type"`
}

type parameterResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Required    bool    `json:"required"`
	Description string  `json:"description,omitempty"`
	Default     *string `json:"default_value,omitempty"`
	Direction   string  `json:"parameter_type"`
}

type configRequest struct {
	Key   string `json:"config_key"`
	Value string `json:"config_value"`
}

type toolResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Type        string              `json:"type"`
	Version     string              `json:"version"`
	Active      bool                `json:"is_active"`
	Parameters  []parameterResponse `json:"parameters,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func toToolResponse(t *registry.ToolDescriptor) toolResponse {
	resp := toolResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Type:        string(t.Type),
		Version:     t.Version,
		Active:      t.Active,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	for _, p := range t.Parameters {
		resp.Parameters = append(resp.Parameters, toParameterResponse(p))
	}
	return resp
}

func toParameterResponse(p registry.Parameter) parameterResponse {
	return parameterResponse{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Required:    p.Required,
		Description: p.Description,
		Default:     p.Default,
		Direction:   string(p.Direction),
	}
}

type toolListResponse struct {
	Tools    []toolResponse `json:"tools"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// --- Roles, permissions, rate limits, agents ---

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type grantRequest struct {
	RoleID  string `json:"role_id"`
	Action  string `json:"action"`
	Granted *bool  `json:"granted"`
}

type rateLimitRequest struct {
	Scope         string `json:"scope"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"time_window_seconds"`
}

type rateLimitResponse struct {
	ID            string `json:"id"`
	ToolID        string `json:"tool_id"`
	Scope         string `json:"scope"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"time_window_seconds"`
}

func toRateLimitResponse(r ratelimit.Rule) rateLimitResponse {
	return rateLimitResponse{
		ID:            r.ID,
		ToolID:        r.ToolID,
		Scope:         string(r.Scope),
		MaxRequests:   r.MaxRequests,
		WindowSeconds: r.WindowSeconds,
	}
}

type createAgentRequest struct {
	Name   string `json:"name"`
	RoleID string `json:"role_id"`
}

type agentResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RoleID       string    `json:"role_id"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	APIKey       string    `json:"api_key,omitempty"` // plaintext, on create only
}

func toAgentResponse(a agents.Agent) agentResponse {
	return agentResponse{
		ID:           a.ID,
		Name:         a.Name,
		RoleID:       a.RoleID,
		APIKeyPrefix: a.APIKeyPrefix,
		Active:       a.Active,
		CreatedAt:    a.CreatedAt,
	}
}

type agentListResponse struct {
	Agents   []agentResponse `json:"agents"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoleResponse(r permission.Role) roleResponse {
	return roleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

type roleListResponse struct {
	Roles    []roleResponse `json:"roles"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type grantResponse struct {
	ID      string `json:"id"`
	ToolID  string `json:"tool_id"`
	RoleID  string `json:"role_id"`
	Action  string `json:"action"`
	Granted bool   `json:"granted"`
}

func toGrantResponse(g permission.Grant) grantResponse {
	return grantResponse{
		ID:      g.ID,
		ToolID:  g.ToolID,
		RoleID:  g.RoleID,
		Action:  g.Action.String(),
		Granted: g.Granted,
	}
}

// discoveryToolResponse is the agent-facing view of a tool: the
// description is the redacted Args-formatted text and credential-like
// parameters are omitted entirely.
type discoveryToolResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Version     string              `json:"version"`
	Description string              `json:"description"`
	Parameters  []parameterResponse `json:"parameters,omitempty"`
}

type discoveryListResponse struct {
	Tools    []discoveryToolResponse `json:"tools"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}
