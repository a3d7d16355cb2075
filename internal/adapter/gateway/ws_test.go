package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatstream/internal/domain"
)

func dialWS(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(base, "http")+"/api/ws/chat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

// readUntilTerminal reads events until stream_complete or error.
func readUntilTerminal(t *testing.T, ws *websocket.Conn) []domain.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var events []domain.StreamEvent
	for {
		var ev domain.StreamEvent
		require.NoError(t, wsjson.Read(ctx, ws, &ev))
		events = append(events, ev)
		if ev.Terminal() {
			return events
		}
	}
}

func TestWSChatStreamsPrompts(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{tokens: []string{"one ", "two"}})
	ws := dialWS(t, env.url)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, wsChatRequest{Prompt: "hi", MessageID: "w1"}))
	events := readUntilTerminal(t, ws)
	assert.Equal(t, domain.StreamStart, events[0].Type)
	assert.Equal(t, "one two", events[len(events)-1].FullContent)

	// A second prompt on the same connection gets its own stream.
	require.NoError(t, wsjson.Write(ctx, ws, wsChatRequest{Prompt: "again", MessageID: "w2"}))
	events = readUntilTerminal(t, ws)
	assert.Equal(t, "w2", events[0].MessageID)
	assert.Equal(t, domain.StreamComplete, events[len(events)-1].Type)
}

func TestWSChatRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, &scriptProvider{tokens: []string{"x"}})
	ws := dialWS(t, env.url)
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, ws, wsChatRequest{MessageID: "w3"}))
	events := readUntilTerminal(t, ws)
	require.Len(t, events, 1)
	assert.Equal(t, "Missing required parameters", events[0].Error)

	require.NoError(t, wsjson.Write(ctx, ws, wsChatRequest{Prompt: "p", MessageID: "w4"}))
	readUntilTerminal(t, ws)
	require.NoError(t, wsjson.Write(ctx, ws, wsChatRequest{Prompt: "p", MessageID: "w4"}))
	events = readUntilTerminal(t, ws)
	require.Len(t, events, 1)
	assert.Equal(t, "Message already processed", events[0].Error)
	assert.Equal(t, int32(1), env.provider.calls.Load())
}
