package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req createToolRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}
	toolType := registry.ToolType(req.Type)
	if toolType != registry.ToolTypeHTTP && toolType != registry.ToolTypeDatabase {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "type must be \"http\" or \"database\""})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	tool, err := d.Registry.CreateTool(r.Context(), registry.CreateToolParams{
		Name:        req.Name,
		Description: req.Description,
		Type:        toolType,
		Version:     req.Version,
		Active:      active,
	})
	if errors.Is(err, registry.ErrNameTaken) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "tool with name already exists"})
		return
	}
	if err != nil {
		d.Logger.Error("tool create failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool create failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toToolResponse(tool))
}

func (d *Dependencies) handleGetTool(w http.ResponseWriter, r *http.Request) {
	tool, err := d.Registry.GetTool(r.Context(), r.PathValue("tool_id"))
	if err != nil {
		d.Logger.Error("tool lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool lookup failed"})
		return
	}
	if tool == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
		return
	}

	writeJSON(w, http.StatusOK, toToolResponse(tool))
}

func (d *Dependencies) handleListTools(w http.ResponseWriter, r *http.Request) {
	offset, limit, page := pageParams(r, 10)
	q := r.URL.Query()

	filter := registry.ListToolsFilter{
		Search: q.Get("search"),
		Type:   registry.ToolType(q.Get("tool_type")),
		Offset: offset,
		Limit:  limit,
	}
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "is_active must be a boolean"})
			return
		}
		filter.Active = &active
	}

	tools, total, err := d.Registry.ListTools(r.Context(), filter)
	if err != nil {
		d.Logger.Error("tool list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool list failed"})
		return
	}

	resp := toolListResponse{
		Tools:    make([]toolResponse, 0, len(tools)),
		Total:    total,
		Page:     page,
		PageSize: limit,
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toToolResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleUpdateTool(w http.ResponseWriter, r *http.Request) {
	var req updateToolRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}

	tool, err := d.Registry.UpdateTool(r.Context(), r.PathValue("tool_id"), registry.UpdateToolParams{
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Active:      req.Active,
	})
	if errors.Is(err, registry.ErrNameTaken) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "tool with name already exists"})
		return
	}
	if err != nil {
		d.Logger.Error("tool update failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool update failed"})
		return
	}
	if tool == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
		return
	}

	writeJSON(w, http.StatusOK, toToolResponse(tool))
}

// handleDeleteTool deactivates by default; ?hard_delete=true removes the
// tool and everything cascading from it.
func (d *Dependencies) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	toolID := r.PathValue("tool_id")

	var found bool
	var err error
	if hard, _ := strconv.ParseBool(r.URL.Query().Get("hard_delete")); hard {
		found, err = d.Registry.DeleteTool(r.Context(), toolID)
	} else {
		found, err = d.Registry.DeactivateTool(r.Context(), toolID)
	}
	if err != nil {
		d.Logger.Error("tool delete failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool delete failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tool not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleAddParameter(w http.ResponseWriter, r *http.Request) {
	var req parameterRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Name == "" || req.Type == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and type are required"})
		return
	}

	param, err := d.Registry.AddParameter(r.Context(), r.PathValue("tool_id"), registry.Parameter{
		Name:        req.Name,
		Type:        req.Type,
		Required:    req.Required,
		Description: req.Description,
		Default:     req.Default,
		Direction:   registry.ParameterDirection(req.Direction),
	})
	if err != nil {
		d.Logger.Error("parameter add failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "parameter add failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toParameterResponse(*param))
}

func (d *Dependencies) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "config_key is required"})
		return
	}

	if err := d.Registry.SetConfig(r.Context(), r.PathValue("tool_id"), req.Key, req.Value); err != nil {
		d.Logger.Error("config set failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "config set failed"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"config_key": req.Key})
}

func (d *Dependencies) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	found, err := d.Registry.DeleteConfig(r.Context(), r.PathValue("tool_id"), r.PathValue("config_key"))
	if err != nil {
		d.Logger.Error("config delete failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "config delete failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Config not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleAddRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	scope := ratelimit.Scope(req.Scope)
	if scope != ratelimit.ScopeGlobal && scope != ratelimit.ScopePerAgent && scope != ratelimit.ScopePerRole {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "scope must be \"global\", \"agent\", or \"role\""})
		return
	}
	if req.MaxRequests <= 0 || req.WindowSeconds <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "max_requests and time_window_seconds must be positive"})
		return
	}

	rule, err := d.Rules.AddRule(r.Context(), r.PathValue("tool_id"), scope, req.MaxRequests, req.WindowSeconds)
	if err != nil {
		d.Logger.Error("rate limit add failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "rate limit add failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toRateLimitResponse(*rule))
}

func (d *Dependencies) handleListRateLimits(w http.ResponseWriter, r *http.Request) {
	rules, err := d.Rules.ListRules(r.Context(), r.PathValue("tool_id"))
	if err != nil {
		d.Logger.Error("rate limit list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "rate limit list failed"})
		return
	}

	resp := make([]rateLimitResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, toRateLimitResponse(rule))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleDeleteRateLimit(w http.ResponseWriter, r *http.Request) {
	found, err := d.Rules.DeleteRule(r.Context(), r.PathValue("rule_id"))
	if err != nil {
		d.Logger.Error("rate limit delete failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "rate limit delete failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rate limit rule not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
