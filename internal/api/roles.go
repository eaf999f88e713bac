package api

import (
	"errors"
	"net/http"

	"github.com/Kwasi-itc/tools-module/internal/agents"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}

	role, err := d.Perms.CreateRole(r.Context(), req.Name, req.Description)
	if errors.Is(err, permission.ErrRoleNameTaken) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "role with name already exists"})
		return
	}
	if err != nil {
		d.Logger.Error("role create failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "role create failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toRoleResponse(*role))
}

func (d *Dependencies) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := d.Perms.GetRole(r.Context(), r.PathValue("role_id"))
	if err != nil {
		d.Logger.Error("role lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "role lookup failed"})
		return
	}
	if role == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Role not found"})
		return
	}
	writeJSON(w, http.StatusOK, toRoleResponse(*role))
}

func (d *Dependencies) handleListRoles(w http.ResponseWriter, r *http.Request) {
	offset, limit, page := pageParams(r, 50)

	roles, total, err := d.Perms.ListRoles(r.Context(), offset, limit)
	if err != nil {
		d.Logger.Error("role list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "role list failed"})
		return
	}

	resp := roleListResponse{
		Roles:    make([]roleResponse, 0, len(roles)),
		Total:    total,
		Page:     page,
		PageSize: limit,
	}
	for _, role := range roles {
		resp.Roles = append(resp.Roles, toRoleResponse(role))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleSetGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.RoleID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "role_id is required"})
		return
	}
	action, err := permission.ParseAction(req.Action)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "action must be \"read\", \"execute\", or \"manage\""})
		return
	}

	granted := true
	if req.Granted != nil {
		granted = *req.Granted
	}

	grant, err := d.Perms.SetGrant(r.Context(), r.PathValue("tool_id"), req.RoleID, action, granted)
	if err != nil {
		d.Logger.Error("grant set failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "grant set failed"})
		return
	}

	writeJSON(w, http.StatusCreated, toGrantResponse(*grant))
}

func (d *Dependencies) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := d.Perms.ListToolGrants(r.Context(), r.PathValue("tool_id"))
	if err != nil {
		d.Logger.Error("grant list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "grant list failed"})
		return
	}

	resp := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		resp = append(resp, toGrantResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	action, err := permission.ParseAction(r.PathValue("action"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "action must be \"read\", \"execute\", or \"manage\""})
		return
	}

	found, err := d.Perms.RevokeGrant(r.Context(), r.PathValue("tool_id"), r.PathValue("role_id"), action)
	if err != nil {
		d.Logger.Error("grant revoke failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "grant revoke failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Grant not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid request body"})
		return
	}
	if req.Name == "" || req.RoleID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and role_id are required"})
		return
	}

	role, err := d.Perms.GetRole(r.Context(), req.RoleID)
	if err != nil {
		d.Logger.Error("role lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "role lookup failed"})
		return
	}
	if role == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Role not found"})
		return
	}

	agent, plaintext, err := d.Agents.CreateAgent(r.Context(), req.Name, req.RoleID)
	if errors.Is(err, agents.ErrAgentNameTaken) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "agent with name already exists"})
		return
	}
	if err != nil {
		d.Logger.Error("agent create failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "agent create failed"})
		return
	}

	resp := toAgentResponse(*agent)
	resp.APIKey = plaintext
	writeJSON(w, http.StatusCreated, resp)
}

func (d *Dependencies) handleListAgents(w http.ResponseWriter, r *http.Request) {
	offset, limit, page := pageParams(r, 50)

	list, total, err := d.Agents.ListAgents(r.Context(), offset, limit)
	if err != nil {
		d.Logger.Error("agent list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "agent list failed"})
		return
	}

	resp := agentListResponse{
		Agents:   make([]agentResponse, 0, len(list)),
		Total:    total,
		Page:     page,
		PageSize: limit,
	}
	for _, a := range list {
		resp.Agents = append(resp.Agents, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	found, err := d.Agents.DeactivateAgent(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		d.Logger.Error("agent deactivate failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "agent deactivate failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent not found"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleToolsByRole lists active tools the role holds at least the given
// action on (default read). Tool descriptions are redacted for agent
// consumption: credential-like parameters never appear.
func (d *Dependencies) handleToolsByRole(w http.ResponseWriter, r *http.Request) {
	roleID := r.PathValue("role_id")
	offset, limit, page := pageParams(r, 50)

	action := permission.ActionRead
	if v := r.URL.Query().Get("action"); v != "" {
		parsed, err := permission.ParseAction(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "action must be \"read\", \"execute\", or \"manage\""})
			return
		}
		action = parsed
	}

	tools, total, err := d.Registry.ListToolsByRole(r.Context(), roleID, action.AtOrAbove(), offset, limit)
	if err != nil {
		d.Logger.Error("tools by role failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tools by role failed"})
		return
	}

	resp := discoveryListResponse{
		Tools:    make([]discoveryToolResponse, 0, len(tools)),
		Total:    total,
		Page:     page,
		PageSize: limit,
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toDiscoveryResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	action := permission.ActionExecute
	if v := r.URL.Query().Get("action"); v != "" {
		parsed, err := permission.ParseAction(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "action must be \"read\", \"execute\", or \"manage\""})
			return
		}
		action = parsed
	}

	allowed, err := d.PermEval.HasPermission(r.Context(), r.PathValue("tool_id"), r.PathValue("role_id"), action)
	if err != nil {
		d.Logger.Error("permission check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "permission check failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tool_id": r.PathValue("tool_id"),
		"role_id": r.PathValue("role_id"),
		"action":  action.String(),
		"allowed": allowed,
	})
}

// handleDiscoverTools is the authenticated agent-facing catalog: active
// tools the calling agent's role can at least read, with redacted
// descriptions.
func (d *Dependencies) handleDiscoverTools(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())
	if agent == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResp{Detail: "Invalid or missing API key"})
		return
	}
	offset, limit, page := pageParams(r, 50)

	tools, total, err := d.Registry.ListToolsByRole(r.Context(), agent.RoleID, permission.ActionRead.AtOrAbove(), offset, limit)
	if err != nil {
		d.Logger.Error("tool discovery failed", zap.Error(err), zap.String("agent_id", agent.ID))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "tool discovery failed"})
		return
	}

	resp := discoveryListResponse{
		Tools:    make([]discoveryToolResponse, 0, len(tools)),
		Total:    total,
		Page:     page,
		PageSize: limit,
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, toDiscoveryResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toDiscoveryResponse(t *registry.ToolDescriptor) discoveryToolResponse {
	resp := discoveryToolResponse{
		ID:          t.ID,
		Name:        t.Name,
		Type:        string(t.Type),
		Version:     t.Version,
		Description: registry.DescribeForAgents(t),
	}
	sensitive := registry.SensitiveParams(t)
	for _, p := range t.InputParameters() {
		if _, hidden := sensitive[p.Name]; hidden {
			continue
		}
		resp.Parameters = append(resp.Parameters, toParameterResponse(p))
	}
	return resp
}
