package notify

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/keystone/domain"
)

// LogNotifier writes notifications to a logger instead of delivering
// them. Data values carry live tokens, so they are logged at debug only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, kind domain.NotificationKind, recipient string, data map[string]string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", slog.String("kind", string(kind)), slog.String("recipient", recipient))
	if logger.Enabled(ctx, slog.LevelDebug) {
		attrs := make([]any, 0, len(data)+1)
		attrs = append(attrs, slog.String("kind", string(kind)))
		for k, v := range data {
			attrs = append(attrs, slog.String(k, v))
		}
		logger.DebugContext(ctx, "notification data", attrs...)
	}
	return nil
}
