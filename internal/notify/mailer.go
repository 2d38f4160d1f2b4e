package notify

import (
	"context"
	"log/slog"
)

// LogMailer writes outbound mail to the structured log instead of a relay.
// Bodies are logged only at debug level since they carry single-use links.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "mail queued", "to", to, "subject", subject)
	m.logger.DebugContext(ctx, "mail body", "to", to, "body", body)
	return nil
}
