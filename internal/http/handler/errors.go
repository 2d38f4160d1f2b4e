package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

type serviceErrorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrorMappings = []serviceErrorMapping{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials"},
	{service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED", "account disabled"},
	{service.ErrTenantInactive, http.StatusForbidden, "TENANT_INACTIVE", "tenant inactive"},
	{service.ErrSessionAlreadyRotated, http.StatusConflict, "SESSION_ALREADY_ROTATED", "session already rotated"},
	{service.ErrSessionInvalid, http.StatusUnauthorized, "SESSION_INVALID", "session invalid"},
	{service.ErrElevationExpired, http.StatusUnauthorized, "ELEVATION_EXPIRED", "second factor window expired, sign in again"},
	{service.ErrInvalidCode, http.StatusUnauthorized, "INVALID_CODE", "invalid code"},
	{service.ErrAlreadyUsed, http.StatusConflict, "ALREADY_USED", "code already used"},
	{service.ErrAccessRevoked, http.StatusUnauthorized, "ACCESS_REVOKED", "access token revoked"},
	{service.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"},
	{service.ErrStorage, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage unavailable"},
	{service.ErrSigning, http.StatusInternalServerError, "SIGNING_FAILED", "could not issue credentials"},
}

// writeServiceError is the single place service sentinels become HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrValidation) {
		msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
		return
	}
	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.target) {
			if m.status >= 500 {
				slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
			}
			response.Error(w, r, m.status, m.code, m.message, nil)
			return
		}
	}
	slog.ErrorContext(r.Context(), "unhandled service error", "path", r.URL.Path, "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return false
	}
	return true
}

func originFrom(r *http.Request) service.Origin {
	return service.Origin{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}
