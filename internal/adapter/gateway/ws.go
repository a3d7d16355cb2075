package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatstream/internal/domain"
)

// wsChatRequest is one prompt sent over /api/ws/chat.
type wsChatRequest struct {
	Prompt    string `json:"prompt"`
	MessageID string `json:"message_id"`
}

var localOrigins = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// wsWriter sends each stream event as one JSON text message.
type wsWriter struct {
	ctx context.Context
	ws  *websocket.Conn
}

func (c *wsWriter) WriteEvent(ev domain.StreamEvent) error {
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.ws, ev)
}

// KeepAlive is a no-op; the connection carries its own control frames.
func (c *wsWriter) KeepAlive() error { return nil }

// wsChatHandler serves GET /api/ws/chat. Prompts are answered one at a time
// in the order received, with the same event sequence as the SSE endpoint.
func wsChatHandler(deps HandlerDeps) http.HandlerFunc {
	opts := &websocket.AcceptOptions{OriginPatterns: localOrigins}
	if slices.Contains(deps.AllowedOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = append(slices.Clone(localOrigins), deps.AllowedOrigins...)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, opts)
		if err != nil {
			deps.Logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer ws.CloseNow()

		ctx := r.Context()
		out := &wsWriter{ctx: ctx, ws: ws}
		deps.Logger.Debug("websocket client connected", "remote", r.RemoteAddr)

		for {
			var req wsChatRequest
			if err := wsjson.Read(ctx, ws, &req); err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					deps.Logger.Debug("websocket read failed", "error", err)
				}
				return
			}
			if err := serveWSPrompt(ctx, deps, out, req); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				deps.Logger.Warn("websocket stream failed", "message_id", req.MessageID, "error", err)
				ws.Close(websocket.StatusInternalError, "stream error")
				return
			}
		}
	}
}

func serveWSPrompt(ctx context.Context, deps HandlerDeps, out *wsWriter, req wsChatRequest) error {
	if req.Prompt == "" || req.MessageID == "" {
		return out.WriteEvent(domain.NewErrorEvent(req.MessageID, msgMissingParameters))
	}

	sess, err := deps.Stream.Start(ctx, req.MessageID, req.Prompt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateRequest):
		return out.WriteEvent(domain.NewErrorEvent(req.MessageID, msgAlreadyProcessed))
	default:
		return out.WriteEvent(domain.NewErrorEvent(req.MessageID, err.Error()))
	}
	defer deps.Stream.Release(req.MessageID)

	return relay(ctx, sess, out, deps.KeepaliveTimeout, deps.JoinTimeout)
}
