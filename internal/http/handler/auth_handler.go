package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

type AuthHandler struct {
	auth     *service.AuthService
	sessions *service.SessionService
	recovery *service.AccountRecoveryService
	cookies  *security.CookieManager
	codec    *security.TokenCodec
}

func NewAuthHandler(
	auth *service.AuthService,
	sessions *service.SessionService,
	recovery *service.AccountRecoveryService,
	cookies *security.CookieManager,
	codec *security.TokenCodec,
) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions, recovery: recovery, cookies: cookies, codec: codec}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type completeSecondFactorRequest struct {
	ElevationToken string `json:"elevation_token"`
	Code           string `json:"code"`
}

type sessionTokenRequest struct {
	SessionToken string `json:"session_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}
	result, err := h.auth.Login(r.Context(), req.Email, req.Password, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result.RequiresSecondFactor {
		response.JSON(w, r, http.StatusAccepted, result)
		return
	}
	h.writeCredentials(w, r, http.StatusOK, result)
}

func (h *AuthHandler) CompleteSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req completeSecondFactorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.auth.CompleteSecondFactor(r.Context(), req.ElevationToken, req.Code, originFrom(r))
	if err != nil {
		// The elevation token is spent by any attempt.
		if errors.Is(err, service.ErrInvalidCode) {
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CODE", "invalid code, sign in again to retry", nil)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	h.writeCredentials(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := h.sessionTokenFromRequest(w, r)
	if token == "" {
		return
	}
	result, err := h.sessions.Refresh(r.Context(), token, originFrom(r))
	if err != nil {
		h.cookies.ClearTokenCookies(w)
		writeServiceError(w, r, err)
		return
	}
	h.writeCredentials(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, _ := claims.UserID()
	sessionToken := security.GetCookie(r, security.SessionCookieName)
	if sessionToken == "" && r.ContentLength > 0 {
		var req sessionTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sessionToken = req.SessionToken
	}
	err := h.sessions.Logout(r.Context(), service.LogoutInput{
		UserID:          userID,
		TenantID:        claims.TenantID,
		SessionToken:    sessionToken,
		AccessTokenID:   claims.ID,
		AccessExpiresAt: claims.ExpiresAtTime(),
		Origin:          originFrom(r),
	})
	h.cookies.ClearTokenCookies(w)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, _ := claims.UserID()
	n, err := h.sessions.LogoutAll(r.Context(), userID, claims.TenantID, originFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Sessions are already gone; this only blacklists the presented access token.
	if err := h.sessions.Logout(r.Context(), service.LogoutInput{
		UserID:          userID,
		TenantID:        claims.TenantID,
		AccessTokenID:   claims.ID,
		AccessExpiresAt: claims.ExpiresAtTime(),
		Origin:          originFrom(r),
	}); err != nil {
		slog.WarnContext(r.Context(), "logout-all access blacklist failed", "user_id", userID, "error", err)
	}
	h.cookies.ClearTokenCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.recovery.RequestPasswordReset(r.Context(), req.Email, originFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "if the account exists, a reset link was sent"})
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.recovery.ResetPassword(r.Context(), req.Token, req.NewPassword, originFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.ClearTokenCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (h *AuthHandler) EmailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, _ := claims.UserID()
	if err := h.recovery.RequestEmailVerification(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "verification_sent"})
}

func (h *AuthHandler) EmailVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.recovery.ConfirmEmailVerification(r.Context(), req.Token, originFrom(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_verified"})
}

func (h *AuthHandler) sessionTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	if token := security.GetCookie(r, security.SessionCookieName); token != "" {
		return token
	}
	var req sessionTokenRequest
	if !decodeJSON(w, r, &req) {
		return ""
	}
	if req.SessionToken == "" {
		response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session invalid", nil)
		return ""
	}
	return req.SessionToken
}

func (h *AuthHandler) writeCredentials(w http.ResponseWriter, r *http.Request, status int, result *service.LoginResult) {
	csrf, err := security.NewCSRFToken()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.SetTokenCookies(w, result.AccessToken, result.SessionToken, csrf, h.codec.AccessTTL(), h.codec.SessionTTL())
	response.JSON(w, r, status, result)
}
