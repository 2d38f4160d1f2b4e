package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

type AdminHandler struct {
	sessions *service.SessionService
}

func NewAdminHandler(sessions *service.SessionService) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

type revokeTenantSessionsRequest struct {
	Reason string `json:"reason"`
}

// RevokeTenantSessions is limited to the caller's own tenant unless the caller
// is a super admin.
func (h *AdminHandler) RevokeTenantSessions(w http.ResponseWriter, r *http.Request) {
	projection, ok := middleware.ProjectionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	raw, err := strconv.ParseUint(chi.URLParam(r, "tenant_id"), 10, 64)
	if err != nil || raw == 0 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid tenant id", nil)
		return
	}
	tenantID := uint(raw)
	if projection.Role != domain.RoleSuperAdmin && (projection.TenantID == nil || *projection.TenantID != tenantID) {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "tenant outside caller scope", nil)
		return
	}
	var req revokeTenantSessionsRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.sessions.RevokeTenantSessions(r.Context(), &tenantID, req.Reason, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.tenant_sessions_revoke", "tenant_id", tenantID, "actor_id", projection.UserID, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]any{"tenant_id": tenantID, "revoked": n})
}
