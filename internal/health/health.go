package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// ReadinessRunner runs readiness checks concurrently under a shared timeout and
// caches the outcome for cacheTTL to keep readiness checks cheap.
type ReadinessRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu        sync.Mutex
	checkedAt time.Time
	ready     bool
	results   []CheckResult
}

func NewReadinessRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ReadinessRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadinessRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ReadinessRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cacheTTL > 0 && !p.checkedAt.IsZero() && time.Since(p.checkedAt) < p.cacheTTL {
		return p.ready, p.results
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			results[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	p.ready, p.results, p.checkedAt = ready, results, time.Now()
	return ready, results
}

func NewDBChecker(db *gorm.DB) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		return timed(ctx, "db", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	})
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		return timed(ctx, "redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	})
}

func timed(ctx context.Context, name string, fn func(context.Context) error) CheckResult {
	start := time.Now()
	err := fn(ctx)
	res := CheckResult{Name: name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
