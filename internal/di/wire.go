//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sandeepkv93/tenant-session-engine/internal/app"
	"github.com/sandeepkv93/tenant-session-engine/internal/config"
	"github.com/sandeepkv93/tenant-session-engine/internal/http/handler"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
	"github.com/sandeepkv93/tenant-session-engine/internal/service"
)

var storageSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewUserRepository,
	repository.NewTenantRepository,
	repository.NewBackupCodeRepository,
	repository.NewSessionRepository,
	provideTenantDirectory,
	provideRevocationStore,
	provideProjectionCacheStore,
)

var engineSet = wire.NewSet(
	storageSet,
	provideTokenCodec,
	providePasswordHasher,
	provideTOTP,
	provideAuditRecorder,
	provideProjectionResolver,
	provideProjectionInvalidator,
	provideSecondFactor,
	provideTokenService,
	provideSessionService,
	providePruner,
)

var httpSet = wire.NewSet(
	service.NewAuthService,
	service.NewRequestAuthenticator,
	provideMailer,
	provideAccountRecovery,
	provideCookieManager,
	handler.NewAuthHandler,
	handler.NewUserHandler,
	handler.NewAdminHandler,
	provideReadiness,
	provideRouter,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*app.App, func(), error) {
	panic(wire.Build(engineSet, httpSet, provideRuntime, provideApp))
}

func InitializeEngine(cfg *config.Config, logger *slog.Logger) (*Engine, func(), error) {
	panic(wire.Build(engineSet, wire.Struct(new(Engine), "*")))
}
