package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func noContent(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestCSRFMiddleware(t *testing.T) {
	cases := []struct {
		name    string
		method  string
		path    string
		cookies map[string]string
		header  string
		want    int
	}{
		{name: "access cookie without csrf cookie", method: http.MethodPost, path: "/api/v1/auth/logout",
			cookies: map[string]string{"access_token": "a"}, header: "token", want: http.StatusForbidden},
		{name: "session cookie with mismatch", method: http.MethodPost, path: "/api/v1/auth/refresh",
			cookies: map[string]string{"session_token": "s", "csrf_token": "cookie-value"}, header: "header-value", want: http.StatusForbidden},
		{name: "session cookie with matching token", method: http.MethodPost, path: "/api/v1/auth/refresh",
			cookies: map[string]string{"session_token": "s", "csrf_token": "match"}, header: "match", want: http.StatusNoContent},
		{name: "revoke device with missing header", method: http.MethodDelete, path: "/api/v1/me/sessions/abc",
			cookies: map[string]string{"access_token": "a", "csrf_token": "c"}, want: http.StatusForbidden},
		{name: "bearer only is exempt", method: http.MethodPost, path: "/api/v1/me/sessions/revoke-others",
			want: http.StatusNoContent},
		{name: "reads are exempt", method: http.MethodGet, path: "/api/v1/me/sessions",
			cookies: map[string]string{"access_token": "a"}, want: http.StatusNoContent},
	}
	h := CSRFMiddleware(http.HandlerFunc(noContent))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for name, value := range tc.cookies {
				req.AddCookie(&http.Cookie{Name: name, Value: value})
			}
			if tc.header != "" {
				req.Header.Set("X-CSRF-Token", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.want == http.StatusForbidden && !strings.Contains(rr.Body.String(), "CSRF_INVALID") {
				t.Fatalf("expected CSRF_INVALID, got %s", rr.Body.String())
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
}

func TestCORSPreflightOnlyForListedOrigins(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(noContent))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/me/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("expected allowed origin echo, got %v", rr.Header())
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "X-Session-Token") {
		t.Fatalf("expected session header to be allowed, got %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/me/sessions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected cors grant for unlisted origin: %v", rr.Header())
	}
}

func TestBodyLimit(t *testing.T) {
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(strings.Repeat("x", 64))))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected oversized body rejection, got %d", rr.Code)
	}
}

func TestCSRFPathGroup(t *testing.T) {
	cases := map[string]string{
		"/":                           "root",
		"/api/v1/auth/refresh":        "api/auth",
		"/api/v1/admin/tenants/1":     "api/admin",
		"/api/v1/me/sessions":         "api/me",
		"/health/ready":               "health",
		"/api/v1/auth/password/reset": "api/auth",
	}
	for input, expected := range cases {
		if got := csrfPathGroup(input); got != expected {
			t.Fatalf("csrfPathGroup(%q)=%q want %q", input, got, expected)
		}
	}
}
