package api

import (
	"net/http"
	"strconv"

	"github.com/Kwasi-itc/tools-module/internal/engine"
	"go.uber.org/zap"
)

// handleExecuteTool runs a tool as the authenticated agent. The agent's
// role binding supplies the role for permission and rate limit checks.
func (d *Dependencies) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())
	toolID := r.PathValue("tool_id")

	var req executeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	rec, err := d.Engine.Execute(r.Context(), toolID, agent.ID, agent.RoleID, req.Input)
	if err != nil {
		writeEngineError(w, d.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toExecutionResponse(rec))
}

// writeEngineError maps engine error kinds to HTTP statuses. Callers of
// the API branch on kind, mirroring the engine's own taxonomy.
func writeEngineError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := engine.KindOf(err)

	var status int
	switch kind {
	case engine.KindNotFound:
		status = http.StatusNotFound
	case engine.KindPermissionDenied:
		status = http.StatusForbidden
	case engine.KindRateLimitExceeded:
		status = http.StatusTooManyRequests
	case engine.KindValidation:
		status = http.StatusUnprocessableEntity
	case engine.KindInactiveTool, engine.KindConfiguration:
		status = http.StatusBadRequest
	default:
		logger.Error("tool execution failed", zap.Error(err))
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, ErrorResp{Detail: err.Error(), Kind: kind.String()})
}

// pageParams reads the one-based page/page_size query parameters.
func pageParams(r *http.Request, defaultSize int) (offset, limit, page int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v >= 1 {
		page = v
	}
	limit = defaultSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v >= 1 && v <= 100 {
		limit = v
	}
	return (page - 1) * limit, limit, page
}
