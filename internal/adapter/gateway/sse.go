package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/tracer"
	"chatstream/internal/usecase/stream"
)

const (
	msgMissingParameters = "Missing required parameters"
	msgAlreadyProcessed  = "Message already processed"
)

// eventWriter delivers stream events to one client transport.
type eventWriter interface {
	WriteEvent(ev domain.StreamEvent) error
	KeepAlive() error
}

// relay drains sess's queue into out until the closure sentinel, then waits
// up to join for the generation task to return.
func relay(ctx context.Context, sess *stream.Session, out eventWriter, keepalive, join time.Duration) error {
	for {
		ev, err := sess.Events().Pop(ctx, keepalive)
		switch {
		case err == nil:
			if err := out.WriteEvent(ev); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrChannelTimeout):
			if err := out.KeepAlive(); err != nil {
				return err
			}
		case errors.Is(err, stream.ErrQueueClosed):
			timer := time.NewTimer(join)
			defer timer.Stop()
			select {
			case <-sess.Done():
			case <-timer.C:
			case <-ctx.Done():
			}
			return nil
		default:
			return err
		}
	}
}

// sseWriter frames events as Server-Sent Events.
type sseWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (s *sseWriter) WriteEvent(ev domain.StreamEvent) error {
	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	buf.WriteByte('\n')
	return s.write(buf.Bytes())
}

func (s *sseWriter) KeepAlive() error {
	return s.write([]byte(": keep-alive\n\n"))
}

func (s *sseWriter) write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	return s.rc.Flush()
}

// sseChatHandler serves GET /api/sse/chat?prompt=&message_id=.
func sseChatHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		prompt, messageID := q.Get("prompt"), q.Get("message_id")
		if prompt == "" || messageID == "" {
			http.Error(w, msgMissingParameters, http.StatusBadRequest)
			return
		}

		sess, err := deps.Stream.Start(r.Context(), messageID, prompt)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrDuplicateRequest):
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, msgAlreadyProcessed)
			return
		case errors.Is(err, domain.ErrPoolFull):
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, err)
			return
		default:
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		defer deps.Stream.Release(messageID)

		ctx, span := tracer.StartSpan(r.Context(), "sse.stream")
		defer span.End()
		span.SetAttributes(tracer.StringAttr("stream.message_id", messageID))

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)

		out := &sseWriter{w: w, rc: http.NewResponseController(w)}
		out.rc.Flush()

		err = relay(ctx, sess, out, deps.KeepaliveTimeout, deps.JoinTimeout)
		switch {
		case err == nil:
			out.write([]byte("\n"))
			tracer.SetOK(span)
		case errors.Is(err, context.Canceled):
			deps.Logger.Info("sse client disconnected", "message_id", messageID)
		default:
			failure := fmt.Errorf("%w: %w", domain.ErrStreamFailure, err)
			tracer.RecordError(span, failure)
			deps.Logger.Error("sse stream failed", "message_id", messageID, "error", failure)
			out.WriteEvent(domain.NewErrorEvent(messageID, "Stream error: "+err.Error()))
		}
	}
}
