package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/tenant-session-engine/internal/app"
	"github.com/sandeepkv93/tenant-session-engine/internal/config"
	"github.com/sandeepkv93/tenant-session-engine/internal/database"
	"github.com/sandeepkv93/tenant-session-engine/internal/health"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/handler"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/middleware"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/router"
	"github.com/sandeepkv93/tenant-session-engine/internal/notify"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/security"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"

	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Engine is the service graph without the HTTP surface, used by operator commands.
type Engine struct {
	DB       *gorm.DB
	Sessions *service.SessionService
	Pruner   *service.SessionPruner
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { database.Close(db, logger) }, nil
}

// provideRedis returns nil when REDIS_ADDR is empty; stores then fall back to
// process-local implementations.
func provideRedis(cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis disabled, using in-process revocation and cache stores")
		return nil, func() {}
	}
	client := database.NewRedisClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := database.PingRedis(ctx, client); err != nil {
		logger.Warn("redis unreachable at startup, readiness will report it", "addr", cfg.RedisAddr, "error", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
}

func provideRevocationStore(cfg *config.Config, client redis.UniversalClient) service.AccessRevocationStore {
	if client == nil {
		return service.NewInMemoryAccessRevocationStore()
	}
	return service.NewRedisAccessRevocationStore(client, cfg.RedisKeyPrefix)
}

func provideProjectionCacheStore(cfg *config.Config, client redis.UniversalClient) service.UserProjectionCacheStore {
	switch {
	case cfg.UserCacheTTL <= 0:
		return service.NewNoopUserProjectionCacheStore()
	case client == nil:
		return service.NewInMemoryUserProjectionCacheStore()
	default:
		return service.NewRedisUserProjectionCacheStore(client, cfg.RedisKeyPrefix)
	}
}

func provideTokenCodec(cfg *config.Config) *security.TokenCodec {
	return security.NewTokenCodec(security.TokenCodecConfig{
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
		AccessSecret:  cfg.JWTAccessSecret,
		SessionSecret: cfg.JWTSessionSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		SessionTTL:    cfg.JWTSessionTTL,
		ElevationTTL:  cfg.ElevationTTL,
	})
}

func providePasswordHasher(cfg *config.Config) security.PasswordHasher {
	return security.NewBcryptHasher(cfg.BcryptCost)
}

func provideTOTP(cfg *config.Config) *security.TOTP {
	return security.NewTOTP(cfg.TOTPIssuer)
}

func provideTenantDirectory(tenants repository.TenantRepository) service.TenantDirectory {
	return tenants
}

func provideAuditRecorder(logger *slog.Logger) service.AuditRecorder {
	return observability.NewSlogAuditRecorder(logger)
}

func provideProjectionResolver(cache service.UserProjectionCacheStore, users repository.UserRepository, cfg *config.Config, logger *slog.Logger) *service.CachedUserProjectionResolver {
	return service.NewCachedUserProjectionResolver(cache, users, cfg.UserCacheTTL, logger)
}

func provideProjectionInvalidator(r *service.CachedUserProjectionResolver) service.UserProjectionInvalidator {
	return r
}

func provideSecondFactor(users repository.UserRepository, codes repository.BackupCodeRepository, totp *security.TOTP) service.SecondFactorVerifier {
	return service.NewSecondFactorService(users, codes, totp)
}

func provideTokenService(codec *security.TokenCodec, sessions repository.SessionRepository, cfg *config.Config, invalidator service.UserProjectionInvalidator, audit service.AuditRecorder, logger *slog.Logger) *service.TokenService {
	return service.NewTokenService(codec, sessions, cfg.SessionTokenPepper, invalidator, audit, logger)
}

func provideSessionService(
	codec *security.TokenCodec,
	sessions repository.SessionRepository,
	users repository.UserRepository,
	tenants service.TenantDirectory,
	tokens *service.TokenService,
	revocations service.AccessRevocationStore,
	invalidator service.UserProjectionInvalidator,
	audit service.AuditRecorder,
	logger *slog.Logger,
	cfg *config.Config,
) *service.SessionService {
	return service.NewSessionService(codec, sessions, users, tenants, tokens, revocations, invalidator, audit, logger, service.SessionServiceConfig{
		Pepper:          cfg.SessionTokenPepper,
		RotationEnabled: cfg.SessionRotationEnabled,
	})
}

func provideMailer(logger *slog.Logger) service.Mailer {
	return notify.NewLogMailer(logger)
}

func provideAccountRecovery(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	hasher security.PasswordHasher,
	codec *security.TokenCodec,
	mailer service.Mailer,
	invalidator service.UserProjectionInvalidator,
	audit service.AuditRecorder,
	logger *slog.Logger,
	cfg *config.Config,
) *service.AccountRecoveryService {
	return service.NewAccountRecoveryService(users, sessions, hasher, codec, mailer, invalidator, audit, logger, service.AccountRecoveryConfig{
		PublicBaseURL:        cfg.PublicBaseURL,
		PasswordResetTTL:     cfg.PasswordResetTTL,
		EmailVerificationTTL: cfg.EmailVerificationTTL,
	})
}

func providePruner(sessions repository.SessionRepository, cfg *config.Config, logger *slog.Logger) *service.SessionPruner {
	return service.NewSessionPruner(sessions, cfg.SessionRetention, cfg.SessionPruneInterval, logger)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ReadinessRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewReadinessRunner(2*time.Second, time.Second, checkers...)
}

func provideRouter(
	cfg *config.Config,
	auth *handler.AuthHandler,
	users *handler.UserHandler,
	admin *handler.AdminHandler,
	verifier *service.RequestAuthenticator,
	resolver *service.CachedUserProjectionResolver,
	readiness *health.ReadinessRunner,
	client redis.UniversalClient,
) http.Handler {
	dep := router.Dependencies{
		AuthHandler:        auth,
		UserHandler:        users,
		AdminHandler:       admin,
		AccessVerifier:     verifier,
		RBACService:        service.NewCapabilityAuthorizer(),
		ProjectionResolver: resolver,
		CORSOrigins:        cfg.CORSOrigins,
		TrustedProxies:     cfg.TrustedProxies,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
	if cfg.RateLimitBackend == "redis" && client != nil {
		limiter := middleware.NewRedisLimiter(client, cfg.RedisKeyPrefix)
		mode := middleware.FailureMode(cfg.RateLimitFailureMode)
		dep.GlobalRateLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.APIRateLimitRPM, time.Minute, mode, "api").Middleware()
		dep.AuthRateLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.AuthRateLimitRPM, time.Minute, mode, "auth").
			WithKeyFunc(middleware.CredentialEmailKey).
			Middleware()
	}
	return router.NewRouter(dep)
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	pruner *service.SessionPruner,
	recovery *service.AccountRecoveryService,
	readiness *health.ReadinessRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, pruner, recovery, readiness, nil)
}
