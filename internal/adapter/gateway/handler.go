package gateway

import (
	"context"
	"log/slog"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/usecase/stream"
)

// HealthChecker is implemented by providers that can probe their backend.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// HandlerDeps holds dependencies needed by the HTTP handlers.
type HandlerDeps struct {
	Stream  *stream.Service
	Bus     domain.EventBus        // can be nil
	Auth    Authenticator          // can be nil (admin endpoints open)
	Models  domain.ModelLister     // can be nil
	Health  HealthChecker          // can be nil
	History domain.TranscriptStore // can be nil (history disabled)
	Logger  *slog.Logger

	KeepaliveTimeout time.Duration
	JoinTimeout      time.Duration
	WebSocket        bool
	// AllowedOrigins is passed to the WebSocket origin check; "*" accepts any.
	AllowedOrigins []string
	Version        string
}

// RegisterHandlers registers every HTTP endpoint on s and returns the
// counters fed by the event bus.
func RegisterHandlers(s *Server, deps HandlerDeps) *Metrics {
	if deps.KeepaliveTimeout <= 0 {
		deps.KeepaliveTimeout = 30 * time.Second
	}
	if deps.JoinTimeout <= 0 {
		deps.JoinTimeout = 5 * time.Second
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	startTime := time.Now()
	metrics := &Metrics{}
	if deps.Bus != nil {
		metrics.subscribe(deps.Bus)
	}

	s.RegisterHTTPRoute("GET /api/sse/chat", sseChatHandler(deps))
	s.RegisterHTTPRoute("GET /api/sse/status", streamStatusHandler(deps))
	s.RegisterHTTPRoute("POST /api/sse/cancel", requireAuth(deps.Auth, streamCancelHandler(deps)))
	if deps.WebSocket {
		s.RegisterHTTPRoute("GET /api/ws/chat", wsChatHandler(deps))
	}

	s.RegisterHTTPRoute("GET /api/v1/health", healthHandler(deps))
	s.RegisterHTTPRoute("GET /api/v1/models", modelsHandler(deps))
	s.RegisterHTTPRoute("GET /api/v1/status", requireAuth(deps.Auth, statusHandler(deps, startTime, metrics)))
	s.RegisterHTTPRoute("GET /metrics", requireAuth(deps.Auth, metricsHandler(deps, startTime, metrics)))

	s.RegisterHTTPRoute("GET /api/history", requireAuth(deps.Auth, historyListHandler(deps)))
	s.RegisterHTTPRoute("GET /api/history/{id}", requireAuth(deps.Auth, historyGetHandler(deps)))

	return metrics
}
