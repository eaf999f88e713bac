package api

import (
	"net/http"

	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"go.uber.org/zap"
)

// handleGetOwnExecution returns one execution record to the agent that
// produced it. Terminal records are immutable history; re-reading never
// changes them.
func (d *Dependencies) handleGetOwnExecution(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())

	rec, err := d.Ledger.Get(r.Context(), r.PathValue("execution_id"))
	if err != nil {
		d.Logger.Error("execution lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "execution lookup failed"})
		return
	}
	if rec == nil || rec.AgentID != agent.ID {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Execution not found"})
		return
	}

	writeJSON(w, http.StatusOK, toExecutionResponse(rec))
}

// handleGetExecution returns one execution record (management surface).
func (d *Dependencies) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := d.Ledger.Get(r.Context(), r.PathValue("execution_id"))
	if err != nil {
		d.Logger.Error("execution lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "execution lookup failed"})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Execution not found"})
		return
	}

	writeJSON(w, http.StatusOK, toExecutionResponse(rec))
}

// handleListExecutions lists execution history, newest first, filtered
// by tool, agent, role, or status.
func (d *Dependencies) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	offset, limit, page := pageParams(r, 10)
	q := r.URL.Query()

	recs, total, err := d.Ledger.List(r.Context(), ledger.ListFilter{
		ToolID:  q.Get("tool_id"),
		AgentID: q.Get("agent_id"),
		RoleID:  q.Get("role_id"),
		Status:  ledger.Status(q.Get("status")),
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		d.Logger.Error("execution list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "execution list failed"})
		return
	}

	resp := executionListResponse{
		Executions: make([]executionResponse, 0, len(recs)),
		Total:      total,
		Page:       page,
		PageSize:   limit,
	}
	for _, rec := range recs {
		resp.Executions = append(resp.Executions, toExecutionResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetAnalytics returns aggregate execution stats, overall or for a
// single tool when tool_id is given.
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Ledger.GetStats(r.Context(), r.URL.Query().Get("tool_id"))
	if err != nil {
		d.Logger.Error("analytics query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "analytics query failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_executions":          stats.Total,
		"successful_executions":     stats.Successful,
		"failed_executions":         stats.Failed,
		"pending_executions":        stats.Pending,
		"running_executions":        stats.Running,
		"success_rate":              stats.SuccessRate,
		"average_execution_time_ms": stats.AverageDurationMs,
		"last_execution_at":         stats.LastExecutionAt,
	})
}
