package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"

	"github.com/sandeepkv93/tenant-session-engine/internal/config"
	"github.com/sandeepkv93/tenant-session-engine/internal/database"
	"github.com/sandeepkv93/tenant-session-engine/internal/di"
	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
)

const testPassword = "Valid#Pass1234"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	baseURL string
	redis   *miniredis.Miniredis
	logs    *lockedBuffer
	users   repository.UserRepository
	tenants repository.TenantRepository
	hasher  security.PasswordHasher
	cfg     *config.Config
}

func newTestServer(t *testing.T, overrides map[string]any) *testServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	v := viper.New()
	values := map[string]any{
		"APP_ENV":             "test",
		"DATABASE_DRIVER":     "sqlite",
		"DATABASE_URL":        "file:" + filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000&_journal_mode=WAL",
		"REDIS_ADDR":          mr.Addr(),
		"BCRYPT_COST":         4,
		"AUTH_RATE_LIMIT_RPM": 1000,
		"API_RATE_LIMIT_RPM":  1000,
		"USER_CACHE_TTL":      "1m",
	}
	for k, val := range overrides {
		values[k] = val
	}
	for k, val := range values {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	logs := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	engine, closeEngine, err := di.InitializeEngine(cfg, logger)
	if err != nil {
		t.Fatalf("init engine: %v", err)
	}
	t.Cleanup(closeEngine)
	if err := database.Migrate(engine.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a, cleanup, err := di.InitializeApp(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(func() {
		srv.Close()
		a.Mail.Wait()
		cleanup()
	})

	return &testServer{
		baseURL: srv.URL,
		redis:   mr,
		logs:    logs,
		users:   repository.NewUserRepository(engine.DB),
		tenants: repository.NewTenantRepository(engine.DB),
		hasher:  security.NewBcryptHasher(4),
		cfg:     cfg,
	}
}

func (s *testServer) seedTenant(t *testing.T, name string) uint {
	t.Helper()
	tenant := &domain.Tenant{Name: name, Active: true}
	if err := s.tenants.Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant.ID
}

func (s *testServer) seedUser(t *testing.T, email string, tenantID uint, role domain.Role) *domain.User {
	t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &domain.User{Email: email, Name: email, PasswordHash: hash, Role: role, Active: true}
	if tenantID != 0 {
		user.TenantID = &tenantID
	}
	if err := s.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	for _, path := range []string{"/", "/api/v1/auth"} {
		u, err := url.Parse(baseURL + path)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		for _, c := range client.Jar.Cookies(u) {
			if c.Name == name {
				return c.Value
			}
		}
	}
	return ""
}

// doJSON sends body as JSON and mirrors the csrf cookie into the header the
// way a browser client would.
func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client.Jar != nil {
		if base, err := url.Parse(target); err == nil {
			base.Path = "/"
			for _, c := range client.Jar.Cookies(base) {
				if c.Name == security.CSRFCookieName {
					req.Header.Set("X-CSRF-Token", c.Value)
				}
			}
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return out
}

type loginData struct {
	AccessToken          string `json:"access_token"`
	SessionToken         string `json:"session_token"`
	SessionID            string `json:"session_id"`
	RequiresSecondFactor bool   `json:"requires_second_factor"`
	ElevationToken       string `json:"elevation_token"`
	RemainingBackupCodes *int   `json:"remaining_backup_codes"`
}

func login(t *testing.T, s *testServer, client *http.Client, email string) loginData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, s.baseURL+"/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d code=%s", resp.StatusCode, env.code())
	}
	return decodeData[loginData](t, env)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func auditEvents(t *testing.T, logs string) []map[string]any {
	t.Helper()
	events := make([]map[string]any, 0)
	for _, line := range strings.Split(logs, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if msg, _ := event["msg"].(string); msg == "audit" {
			events = append(events, event)
		}
	}
	return events
}

func requireAuditEvent(t *testing.T, events []map[string]any, name, status, reason string) {
	t.Helper()
	for _, event := range events {
		gotName, _ := event["event"].(string)
		gotStatus, _ := event["status"].(string)
		gotReason, _ := event["reason"].(string)
		if gotName == name && gotStatus == status && gotReason == reason {
			return
		}
	}
	t.Fatalf("expected audit event=%q status=%q reason=%q, got %#v", name, status, reason, events)
}
