package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/domain"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testPassword = "correct horse battery"
	testPepper   = "pepper-pepper-pepper-pepper-pepper"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureAudit struct {
	mu     sync.Mutex
	events []observability.AuditEvent
}

func (a *captureAudit) Record(_ context.Context, e observability.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *captureAudit) failed() []observability.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []observability.AuditEvent
	for _, e := range a.events {
		if e.Status == observability.AuditStatusFailed {
			out = append(out, e)
		}
	}
	return out
}

func (a *captureAudit) byEvent(name string) []observability.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []observability.AuditEvent
	for _, e := range a.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (a *captureAudit) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type testStack struct {
	db           *gorm.DB
	clock        *testClock
	audit        *captureAudit
	mailer       *captureMailer
	users        repository.UserRepository
	tenants      repository.TenantRepository
	sessionRepo  repository.SessionRepository
	codec        *security.TokenCodec
	totp         *security.TOTP
	hasher       *security.BcryptHasher
	revocations  *InMemoryAccessRevocationStore
	resolver     *CachedUserProjectionResolver
	tokens       *TokenService
	secondFactor *SecondFactorService
	auth         *AuthService
	sessions     *SessionService
	recovery     *AccountRecoveryService
	authn        *RequestAuthenticator
}

type stackOption func(*stackConfig)

type stackConfig struct {
	rotation bool
}

func withoutRotation() stackOption {
	return func(c *stackConfig) { c.rotation = false }
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.Tenant{}, &domain.User{}, &domain.BackupCode{}, &domain.Session{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestStack(t *testing.T, opts ...stackOption) *testStack {
	t.Helper()
	cfg := stackConfig{rotation: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &testStack{
		db:     newTestDB(t),
		clock:  newTestClock(),
		audit:  &captureAudit{},
		mailer: &captureMailer{},
	}
	s.users = repository.NewUserRepository(s.db)
	s.tenants = repository.NewTenantRepository(s.db)
	s.sessionRepo = repository.NewSessionRepositoryWithClock(s.db, s.clock.Now)
	codes := repository.NewBackupCodeRepository(s.db)
	s.codec = security.NewTokenCodec(security.TokenCodecConfig{
		Issuer:        "tenant-session-engine",
		Audience:      "tenant-session-engine-clients",
		AccessSecret:  "access-secret-access-secret-access-secret",
		SessionSecret: "session-secret-session-secret-session-secret",
		AccessTTL:     15 * time.Minute,
		SessionTTL:    7 * 24 * time.Hour,
		ElevationTTL:  5 * time.Minute,
	}, security.WithClock(s.clock.Now))
	s.totp = security.NewTOTP("tenant-session-engine").WithNow(s.clock.Now)
	s.hasher = security.NewBcryptHasher(4)
	s.revocations = NewInMemoryAccessRevocationStore()
	s.resolver = NewCachedUserProjectionResolver(NewInMemoryUserProjectionCacheStore(), s.users, time.Minute, logger)

	s.tokens = NewTokenService(s.codec, s.sessionRepo, testPepper, s.resolver, s.audit, logger)
	s.secondFactor = NewSecondFactorService(s.users, codes, s.totp)
	s.secondFactor.now = s.clock.Now
	s.auth = NewAuthService(s.users, s.tenants, s.hasher, s.codec, s.secondFactor, s.tokens, s.revocations, s.resolver, s.audit, logger)
	s.auth.now = s.clock.Now
	s.sessions = NewSessionService(s.codec, s.sessionRepo, s.users, s.tenants, s.tokens, s.revocations, s.resolver, s.audit, logger,
		SessionServiceConfig{Pepper: testPepper, RotationEnabled: cfg.rotation})
	s.sessions.now = s.clock.Now
	s.recovery = NewAccountRecoveryService(s.users, s.sessionRepo, s.hasher, s.codec, s.mailer, s.resolver, s.audit, logger,
		AccountRecoveryConfig{PublicBaseURL: "https://app.example.test"})
	s.recovery.now = s.clock.Now
	s.authn = NewRequestAuthenticator(s.codec, s.revocations)
	return s
}

func (s *testStack) createTenant(t *testing.T, name string, active bool) *domain.Tenant {
	t.Helper()
	tenant := &domain.Tenant{Name: name, Active: active}
	if err := s.tenants.Create(context.Background(), tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

func (s *testStack) createUser(t *testing.T, email string, tenantID *uint) *domain.User {
	t.Helper()
	hash, err := s.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &domain.User{
		TenantID:     tenantID,
		Email:        email,
		Name:         "Test User",
		PasswordHash: hash,
		Role:         domain.RoleStaff,
		Active:       true,
	}
	if err := s.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// enableSecondFactor enrolls and activates TOTP for user and returns the
// secret plus the plaintext backup codes.
func (s *testStack) enableSecondFactor(t *testing.T, userID uint) (string, []string) {
	t.Helper()
	ctx := context.Background()
	enrollment, err := s.auth.BeginSecondFactorEnrollment(ctx, userID)
	if err != nil {
		t.Fatalf("begin enrollment: %v", err)
	}
	code, err := s.totp.CodeAt(enrollment.Secret, s.clock.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	codes, err := s.auth.ActivateSecondFactor(ctx, userID, code, Origin{IP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return enrollment.Secret, codes
}

var testOrigin = Origin{
	IP:        "203.0.113.10",
	UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}
