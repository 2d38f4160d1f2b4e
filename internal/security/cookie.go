package security

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	AccessCookieName  = "access_token"
	SessionCookieName = "session_token"
	CSRFCookieName    = "csrf_token"
)

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// CookieManager writes credential cookies. Session cookies are scoped to the
// auth routes so they never ride along on ordinary API calls.
type CookieManager struct {
	Domain      string
	Secure      bool
	SessionPath string
}

func NewCookieManager(domain string, secure bool) *CookieManager {
	return &CookieManager{Domain: domain, Secure: secure, SessionPath: "/api/v1/auth"}
}

func (m *CookieManager) SetTokenCookies(w http.ResponseWriter, access, session, csrf string, accessTTL, sessionTTL time.Duration) {
	http.SetCookie(w, m.cookie(AccessCookieName, access, "/", accessTTL, true))
	if session != "" {
		http.SetCookie(w, m.cookie(SessionCookieName, session, m.SessionPath, sessionTTL, true))
	}
	if csrf != "" {
		http.SetCookie(w, m.cookie(CSRFCookieName, csrf, "/", sessionTTL, false))
	}
}

func (m *CookieManager) ClearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(AccessCookieName, "", "/", -1, true))
	http.SetCookie(w, m.cookie(SessionCookieName, "", m.SessionPath, -1, true))
	http.SetCookie(w, m.cookie(CSRFCookieName, "", "/", -1, false))
}

func (m *CookieManager) cookie(name, value, path string, ttl time.Duration, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   m.Domain,
		Secure:   m.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.MaxAge = int(ttl.Seconds())
	return c
}

// NewCSRFToken returns a random value for the double-submit cookie.
func NewCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
