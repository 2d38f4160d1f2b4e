package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

const sessionTokenHeader = "X-Session-Token"

type UserHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
}

func NewUserHandler(auth *service.AuthService, sessions *service.SessionService) *UserHandler {
	return &UserHandler{auth: auth, sessions: sessions}
}

type codeRequest struct {
	Code string `json:"code"`
}

type disableSecondFactorRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	projection, ok := middleware.ProjectionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, projection)
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := subject(w, r)
	if !ok {
		return
	}
	current := h.currentSessionID(r, userID)
	views, err := h.sessions.ListActiveSessions(r.Context(), userID, current)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := subject(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "session id is required", nil)
		return
	}
	status, err := h.sessions.RevokeSession(r.Context(), userID, tenantID, sessionID, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"session_id": sessionID, "status": status})
}

func (h *UserHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := subject(w, r)
	if !ok {
		return
	}
	current := h.currentSessionID(r, userID)
	n, err := h.sessions.RevokeOtherSessions(r.Context(), userID, tenantID, current, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *UserHandler) EnrollSecondFactor(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := subject(w, r)
	if !ok {
		return
	}
	enrollment, err := h.auth.BeginSecondFactorEnrollment(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, enrollment)
}

func (h *UserHandler) ActivateSecondFactor(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := subject(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	codes, err := h.auth.ActivateSecondFactor(r.Context(), userID, req.Code, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *UserHandler) DisableSecondFactor(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := subject(w, r)
	if !ok {
		return
	}
	var req disableSecondFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.DisableSecondFactor(r.Context(), userID, req.Password, req.Code, originFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *UserHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := subject(w, r)
	if !ok {
		return
	}
	remaining, err := h.auth.RemainingBackupCodes(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int{"remaining": remaining})
}

func (h *UserHandler) currentSessionID(r *http.Request, userID uint) string {
	token := security.GetCookie(r, security.SessionCookieName)
	if token == "" {
		token = r.Header.Get(sessionTokenHeader)
	}
	if token == "" {
		return ""
	}
	sid, err := h.sessions.ResolveCurrentSessionID(r.Context(), token, userID)
	if err != nil {
		return ""
	}
	return sid
}

func subject(w http.ResponseWriter, r *http.Request) (uint, *uint, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return 0, nil, false
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return 0, nil, false
	}
	return userID, claims.TenantID, true
}
