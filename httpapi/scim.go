package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/auth9/auth9core/core"
)

// scimHandlers implements the SCIM 2.0 surface of spec.md §4.4. Users are
// delegated entirely to core.ScimServer (filtering, PATCH semantics, and
// bulk operations all live there); Groups have no counterpart on
// core.ScimServer (it only defines User CRUD + Bulk), so group-to-role
// mappings are served directly off core.ScimGroupMappingStore instead.
type scimHandlers struct {
	server core.ScimServer
	groups core.ScimGroupMappingStore
	clock  core.Clock
}

func newScimHandlers(server core.ScimServer, groups core.ScimGroupMappingStore, clock core.Clock) *scimHandlers {
	return &scimHandlers{server: server, groups: groups, clock: clock}
}

// scimContext extracts the ScimRequestContext carried by the provisioning
// token. The provisioning-token -> context resolution itself happens in a
// dedicated SCIM auth middleware (wired in server.go); by the time a
// handler runs, the context rides in the request context under this key.
func scimContext(r *http.Request) core.ScimRequestContext {
	if rctx, ok := r.Context().Value(scimContextKey).(core.ScimRequestContext); ok {
		return rctx
	}
	return core.ScimRequestContext{}
}

type scimContextKeyType struct{}

var scimContextKey = scimContextKeyType{}

// --- Users ---

func (h *scimHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startIndex := 1
	if v := q.Get("startIndex"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			startIndex = n
		}
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			count = n
		}
	}

	resp, err := h.server.ListUsers(r.Context(), scimContext(r), q.Get("filter"), startIndex, count)
	if err != nil {
		writeScimError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schemas":      []string{"urn:ietf:params:scim:api:messages:2.0:ListResponse"},
		"totalResults": resp.TotalResults,
		"startIndex":   resp.StartIndex,
		"itemsPerPage": resp.ItemsPerPage,
		"Resources":    resp.Resources,
	})
}

func (h *scimHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]interface{}
	if err := decodeJSON(r, &attrs); err != nil {
		writeScimError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := h.server.CreateUser(r.Context(), scimContext(r), attrs)
	if err != nil {
		writeScimError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *scimHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.server.GetUser(r.Context(), scimContext(r), r.PathValue("user_id"))
	if err != nil {
		writeScimError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *scimHandlers) ReplaceUser(w http.ResponseWriter, r *http.Request) {
	var attrs map[string]interface{}
	if err := decodeJSON(r, &attrs); err != nil {
		writeScimError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := h.server.ReplaceUser(r.Context(), scimContext(r), r.PathValue("user_id"), attrs)
	if err != nil {
		writeScimError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *scimHandlers) PatchUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operations []core.ScimPatchOp `json:"Operations"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeScimError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := h.server.PatchUser(r.Context(), scimContext(r), r.PathValue("user_id"), body.Operations)
	if err != nil {
		writeScimError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *scimHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.server.DeleteUser(r.Context(), scimContext(r), r.PathValue("user_id")); err != nil {
		writeScimError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Bulk ---

func (h *scimHandlers) Bulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operations   []core.ScimBulkOp `json:"Operations"`
		FailOnErrors int               `json:"failOnErrors"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeScimError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := h.server.Bulk(r.Context(), scimContext(r), body.Operations, body.FailOnErrors)
	if err != nil {
		writeScimError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schemas":    []string{"urn:ietf:params:scim:api:messages:2.0:BulkResponse"},
		"Operations": results,
	})
}

// --- Groups (no core.ScimServer counterpart — served off the mapping store directly) ---

func (h *scimHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	rctx := scimContext(r)
	limit, cursor := paginationParams(r)
	mappings, next, err := h.groups.List(r.Context(), rctx.TenantID, rctx.ConnectorID, limit, cursor)
	if err != nil {
		writeScimError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resources := make([]map[string]interface{}, 0, len(mappings))
	for _, m := range mappings {
		resources = append(resources, scimGroupResource(m))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schemas":      []string{"urn:ietf:params:scim:api:messages:2.0:ListResponse"},
		"totalResults": len(resources),
		"Resources":    resources,
		"next_cursor":  next,
	})
}

func (h *scimHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"displayName"`
		ScimGroupID string `json:"externalId"`
		RoleID      string `json:"role_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeScimError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rctx := scimContext(r)
	mapping := &core.ScimGroupRoleMapping{
		ID:          uuid.New().String(),
		TenantID:    rctx.TenantID,
		ConnectorID: rctx.ConnectorID,
		ScimGroupID: req.ScimGroupID,
		RoleID:      req.RoleID,
	}
	if req.DisplayName != "" {
		mapping.DisplayName = &req.DisplayName
	}
	if err := h.groups.Create(r.Context(), mapping); err != nil {
		writeScimError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, scimGroupResource(mapping))
}

func (h *scimHandlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	rctx := scimContext(r)
	mapping, err := h.groups.GetByScimGroupID(r.Context(), rctx.TenantID, rctx.ConnectorID, r.PathValue("group_id"))
	if err != nil {
		writeScimError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, scimGroupResource(mapping))
}

func (h *scimHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	rctx := scimContext(r)
	if err := h.groups.Delete(r.Context(), rctx.TenantID, r.PathValue("group_id")); err != nil {
		writeScimError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scimGroupResource(m *core.ScimGroupRoleMapping) map[string]interface{} {
	res := map[string]interface{}{
		"schemas":    []string{"urn:ietf:params:scim:schemas:core:2.0:Group"},
		"id":         m.ID,
		"externalId": m.ScimGroupID,
		"role_id":    m.RoleID,
	}
	if m.DisplayName != nil {
		res["displayName"] = *m.DisplayName
	}
	return res
}

func writeScimError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/scim+json")
	writeJSON(w, status, map[string]interface{}{
		"schemas": []string{"urn:ietf:params:scim:api:messages:2.0:Error"},
		"status":  strconv.Itoa(status),
		"detail":  detail,
	})
}
