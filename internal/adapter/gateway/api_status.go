package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/usecase/stream"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus          `json:"service"`
	Streams  StreamCounts           `json:"streams"`
	Pool     stream.PoolStats       `json:"pool"`
	Sessions []domain.SessionStatus `json:"sessions"`
}

// ServiceStatus holds service overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Provider      string `json:"provider"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StreamCounts holds stream lifecycle counters.
type StreamCounts struct {
	Active    int   `json:"active"`
	Processed int   `json:"processed"`
	Started   int64 `json:"started_total"`
	Completed int64 `json:"completed_total"`
	Failed    int64 `json:"failed_total"`
	Cancelled int64 `json:"cancelled_total"`
	Rejected  int64 `json:"rejected_total"`
	Reaped    int64 `json:"reaped_total"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	StreamsStarted   atomic.Int64
	StreamsCompleted atomic.Int64
	StreamsFailed    atomic.Int64
	StreamsCancelled atomic.Int64
	StreamsRejected  atomic.Int64
	SessionsReaped   atomic.Int64
	ContentBytes     atomic.Int64
}

func (m *Metrics) subscribe(bus domain.EventBus) {
	bus.Subscribe(domain.EventStreamStarted, func(context.Context, domain.Event) {
		m.StreamsStarted.Add(1)
	})
	bus.Subscribe(domain.EventStreamCompleted, func(_ context.Context, e domain.Event) {
		m.StreamsCompleted.Add(1)
		var p domain.StreamCompletedPayload
		if e.DecodePayload(&p) == nil {
			m.ContentBytes.Add(int64(p.ContentLength))
		}
	})
	bus.Subscribe(domain.EventStreamError, func(context.Context, domain.Event) {
		m.StreamsFailed.Add(1)
	})
	bus.Subscribe(domain.EventStreamCancelled, func(context.Context, domain.Event) {
		m.StreamsCancelled.Add(1)
	})
	bus.Subscribe(domain.EventStreamRejected, func(context.Context, domain.Event) {
		m.StreamsRejected.Add(1)
	})
	bus.Subscribe(domain.EventSessionReaped, func(_ context.Context, e domain.Event) {
		var p domain.CountPayload
		if e.DecodePayload(&p) == nil {
			m.SessionsReaped.Add(int64(p.Count))
		}
	})
}

func (m *Metrics) counts(svc *stream.Service) StreamCounts {
	return StreamCounts{
		Active:    len(svc.Sessions()),
		Processed: svc.Processed(),
		Started:   m.StreamsStarted.Load(),
		Completed: m.StreamsCompleted.Load(),
		Failed:    m.StreamsFailed.Load(),
		Cancelled: m.StreamsCancelled.Load(),
		Rejected:  m.StreamsRejected.Load(),
		Reaped:    m.SessionsReaped.Load(),
	}
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Service: ServiceStatus{
				Name:          "chatstream",
				Version:       deps.Version,
				Provider:      deps.Stream.ProviderName(),
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Streams:  metrics.counts(deps.Stream),
			Pool:     deps.Stream.PoolStats(),
			Sessions: deps.Stream.Sessions(),
		})
	}
}

// streamStatusHandler serves GET /api/sse/status?message_id=.
func streamStatusHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("message_id")
		if id == "" {
			http.Error(w, msgMissingParameters, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, deps.Stream.Status(id))
	}
}

type cancelResponse struct {
	MessageID string `json:"message_id"`
	Cancelled bool   `json:"cancelled"`
}

// streamCancelHandler serves POST /api/sse/cancel?message_id=.
func streamCancelHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("message_id")
		if id == "" {
			http.Error(w, msgMissingParameters, http.StatusBadRequest)
			return
		}
		cancelled := deps.Stream.Cancel(r.Context(), id)
		status := http.StatusOK
		if !cancelled {
			status = http.StatusNotFound
		}
		writeJSON(w, status, cancelResponse{MessageID: id, Cancelled: cancelled})
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Upstream string `json:"upstream,omitempty"`
}

// healthHandler serves GET /api/v1/health. An unreachable upstream reports
// "degraded" with 503 so load balancers can react.
func healthHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Provider: deps.Stream.ProviderName()}
		status := http.StatusOK
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if deps.Health.IsHealthy(ctx) {
				resp.Upstream = "ok"
			} else {
				resp.Status, resp.Upstream = "degraded", "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}
