package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/tenant-session-engine/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "tenant-session-engine"

type AppMetrics struct {
	authLoginCounter        metric.Int64Counter
	authRefreshCounter      metric.Int64Counter
	authLogoutCounter       metric.Int64Counter
	authSecondFactorCounter metric.Int64Counter
	accessValidationCounter metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	sessionPrunedCounter    metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		if err := RegisterMetrics(mp.Meter(meterName)); err != nil {
			return nil, err
		}
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	if err := RegisterMetrics(mp.Meter(meterName)); err != nil {
		return nil, err
	}
	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// RegisterMetrics creates the engine's counters on meter and makes them current.
func RegisterMetrics(meter metric.Meter) error {
	names := []string{
		"auth.login.attempts",
		"auth.refresh.attempts",
		"auth.logout.attempts",
		"auth.second_factor.attempts",
		"auth.access_token.validations",
		"repository.operations",
		"session.pruned",
		"http.rate_limit.decisions",
	}
	counters := make([]metric.Int64Counter, len(names))
	for i, name := range names {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return fmt.Errorf("create counter %s: %w", name, err)
		}
		counters[i] = c
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		authLoginCounter:        counters[0],
		authRefreshCounter:      counters[1],
		authLogoutCounter:       counters[2],
		authSecondFactorCounter: counters[3],
		accessValidationCounter: counters[4],
		repositoryOpCounter:     counters[5],
		sessionPrunedCounter:    counters[6],
		rateLimitCounter:        counters[7],
	}
	metricsMu.Unlock()
	return nil
}

func currentMetrics() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status, reason string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(ctx context.Context, scope, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("status", status),
	))
}

func RecordSecondFactor(ctx context.Context, method, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.authSecondFactorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.accessValidationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionsPruned(ctx context.Context, count int64) {
	m := currentMetrics()
	if m == nil || count <= 0 {
		return
	}
	m.sessionPrunedCounter.Add(ctx, count)
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
	))
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}
