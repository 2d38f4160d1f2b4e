package observability

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
)

type AuditEvent struct {
	Event     string
	Status    string
	Reason    string
	UserID    uint
	TenantID  *uint
	SessionID string
	IP        string
	UserAgent string
	Attrs     map[string]string
}

// SlogAuditRecorder writes audit events as structured "audit" log records.
type SlogAuditRecorder struct {
	logger *slog.Logger
}

func NewSlogAuditRecorder(logger *slog.Logger) *SlogAuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditRecorder{logger: logger}
}

func (r *SlogAuditRecorder) Record(ctx context.Context, e AuditEvent) {
	attrs := []any{
		"event", e.Event,
		"status", e.Status,
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if e.UserID != 0 {
		attrs = append(attrs, "user_id", e.UserID)
	}
	if e.TenantID != nil {
		attrs = append(attrs, "tenant_id", strconv.FormatUint(uint64(*e.TenantID), 10))
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.IP != "" {
		attrs = append(attrs, "ip", e.IP)
	}
	if e.UserAgent != "" {
		attrs = append(attrs, "user_agent", e.UserAgent)
	}
	for k, v := range e.Attrs {
		attrs = append(attrs, k, v)
	}
	level := slog.LevelInfo
	if e.Status == AuditStatusFailed {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "audit", attrs...)
}

// Audit logs an operator action taken through the HTTP surface.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
