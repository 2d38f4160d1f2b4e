package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
	"github.com/sandeepkv93/tenant-session-engine/internal/repository"
)

// SessionPruner deletes session records that expired longer ago than the
// retention window.
type SessionPruner struct {
	sessionRepo repository.SessionRepository
	retention   time.Duration
	interval    time.Duration
	logger      *slog.Logger
}

func NewSessionPruner(sessionRepo repository.SessionRepository, retention, interval time.Duration, logger *slog.Logger) *SessionPruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionPruner{sessionRepo: sessionRepo, retention: retention, interval: interval, logger: logger}
}

func (p *SessionPruner) RunOnce(ctx context.Context) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "session.prune")
	defer span.End()

	n, err := p.sessionRepo.Prune(ctx, p.retention)
	if err != nil {
		return 0, storageError(err)
	}
	observability.RecordSessionsPruned(ctx, n)
	if n > 0 {
		p.logger.InfoContext(ctx, "pruned expired sessions", "count", n, "retention", p.retention.String())
	}
	return n, nil
}

// Run prunes on every tick until ctx is cancelled. A non-positive interval
// disables the loop.
func (p *SessionPruner) Run(ctx context.Context) error {
	if p.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.WarnContext(ctx, "session prune failed", "error", err)
			}
		}
	}
}
