package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	StageParse      = "parse"
	StageValidation = "validation"
)

// LoadError reports which stage of Load rejected the environment.
type LoadError struct {
	Stage    string
	Key      string
	Problems int
	Err      error
}

func (e *LoadError) Error() string {
	if e.Stage == StageParse {
		return fmt.Sprintf("parse %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("validate config: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

var (
	configMetricsOnce sync.Once
	configLoads       metric.Int64Counter
	configProblems    metric.Int64Histogram
)

func recordConfigLoad(ctx context.Context, profile string, err error) {
	configMetricsOnce.Do(func() {
		meter := otel.Meter("tenant-session-engine/config")
		if c, cerr := meter.Int64Counter("config.validation.events"); cerr == nil {
			configLoads = c
		}
		if h, herr := meter.Int64Histogram("config.validation.problems"); herr == nil {
			configProblems = h
		}
	})
	class := classifyConfigLoadError(err)
	attrs := metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("error_class", class),
	)
	if configLoads != nil {
		configLoads.Add(ctx, 1, attrs)
	}
	var loadErr *LoadError
	if configProblems != nil && errors.As(err, &loadErr) && loadErr.Stage == StageValidation {
		configProblems.Record(ctx, int64(loadErr.Problems), attrs)
	}
}

// normalizeConfigProfile folds APP_ENV into a bounded label set.
func normalizeConfigProfile(profile string) string {
	switch v := strings.TrimSpace(strings.ToLower(profile)); v {
	case "":
		return "unknown"
	case "prod", "production":
		return "production"
	case "dev", "development", "local":
		return "development"
	case "test", "ci":
		return "test"
	default:
		return "other"
	}
}

func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Stage
	}
	return "load"
}
