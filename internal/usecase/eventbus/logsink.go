package eventbus

import (
	"context"
	"log/slog"

	"chatstream/internal/domain"
)

// LogEvents subscribes a handler that writes every event to logger at
// debug level, and errors at warn. It returns the unsubscribe function.
func LogEvents(bus domain.EventBus, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		level := slog.LevelDebug
		if e.Type == domain.EventStreamError {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "event",
			"type", string(e.Type),
			"message_id", e.SessionID,
			"payload", string(e.Payload),
		)
	})
}
