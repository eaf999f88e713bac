package api

import (
	"net/http"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/agents"
	"github.com/Kwasi-itc/tools-module/internal/engine"
	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Engine   *engine.Engine
	Registry *registry.PostgresToolRegistry
	Perms    *permission.PostgresStore
	PermEval *permission.Evaluator
	Rules    *ratelimit.PostgresRuleStore
	Ledger   *ledger.PostgresLedger
	Agents   *agents.Store
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Agent surface (auth required via Bearer ak_ key)
	mux.HandleFunc("POST /v1/tools/{tool_id}/execute", deps.authMiddleware(deps.handleExecuteTool))
	mux.HandleFunc("GET /v1/tools", deps.authMiddleware(deps.handleDiscoverTools))
	mux.HandleFunc("GET /v1/executions/{execution_id}", deps.authMiddleware(deps.handleGetOwnExecution))

	// Tool management (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/tools", deps.handleCreateTool)
	mux.HandleFunc("GET /api/tools", deps.handleListTools)
	mux.HandleFunc("GET /api/tools/{tool_id}", deps.handleGetTool)
	mux.HandleFunc("PATCH /api/tools/{tool_id}", deps.handleUpdateTool)
	mux.HandleFunc("DELETE /api/tools/{tool_id}", deps.handleDeleteTool)
	mux.HandleFunc("POST /api/tools/{tool_id}/parameters", deps.handleAddParameter)
	mux.HandleFunc("POST /api/tools/{tool_id}/configs", deps.handleSetConfig)
	mux.HandleFunc("DELETE /api/tools/{tool_id}/configs/{config_key}", deps.handleDeleteConfig)

	// Permissions & roles
	mux.HandleFunc("POST /api/roles", deps.handleCreateRole)
	mux.HandleFunc("GET /api/roles", deps.handleListRoles)
	mux.HandleFunc("GET /api/roles/{role_id}", deps.handleGetRole)
	mux.HandleFunc("POST /api/tools/{tool_id}/permissions", deps.handleSetGrant)
	mux.HandleFunc("GET /api/tools/{tool_id}/permissions", deps.handleListGrants)
	mux.HandleFunc("DELETE /api/tools/{tool_id}/permissions/{role_id}/{action}", deps.handleRevokeGrant)

	// Rate limit rules
	mux.HandleFunc("POST /api/tools/{tool_id}/rate-limits", deps.handleAddRateLimit)
	mux.HandleFunc("GET /api/tools/{tool_id}/rate-limits", deps.handleListRateLimits)
	mux.HandleFunc("DELETE /api/rate-limits/{rule_id}", deps.handleDeleteRateLimit)

	// Agents
	mux.HandleFunc("POST /api/agents", deps.handleCreateAgent)
	mux.HandleFunc("GET /api/agents", deps.handleListAgents)
	mux.HandleFunc("DELETE /api/agents/{agent_id}", deps.handleDeactivateAgent)

	// Discovery & permission checks (dashboard/orchestration surface)
	mux.HandleFunc("GET /api/registry/by-role/{role_id}", deps.handleToolsByRole)
	mux.HandleFunc("GET /api/registry/check-permission/{tool_id}/{role_id}", deps.handleCheckPermission)

	// Execution history & analytics
	mux.HandleFunc("GET /api/executions", deps.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{execution_id}", deps.handleGetExecution)
	mux.HandleFunc("GET /api/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
