package sseclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

func TestEndpointURL(t *testing.T) {
	got := EndpointURL("http://localhost:8050/", "what is 2+2?", "01ABC")
	u, err := url.Parse(got)
	require.NoError(t, err)

	assert.Equal(t, "/api/sse/chat", u.Path)
	assert.Equal(t, "what is 2+2?", u.Query().Get("prompt"))
	assert.Equal(t, "01ABC", u.Query().Get("message_id"))
}

func TestNewMessageIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewMessageID()
		require.Len(t, id, 26)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func collect(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var out []domain.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamParsesEvents(t *testing.T) {
	ts := sseServer(t, `data: {"type":"stream_start","message_id":"m1","role":"assistant"}

: keep-alive

data: {"type":"content","message_id":"m1","chunk":"Hel"}

data: not json

data: {"type":"content","message_id":"m1","chunk":"lo"}

data: {"type":"stream_complete","message_id":"m1","full_content":"Hello"}

data: {"type":"content","message_id":"m1","chunk":"ignored"}

`)

	ch, err := New(ts.URL).Stream(context.Background(), "hi", "m1")
	require.NoError(t, err)
	events := collect(ch)

	require.Len(t, events, 4)
	assert.Equal(t, domain.StreamStart, events[0].Type)
	assert.Equal(t, "Hel", events[1].Chunk)
	assert.Equal(t, "lo", events[2].Chunk)
	assert.Equal(t, "Hello", events[3].FullContent)
}

func TestStreamSendsQuery(t *testing.T) {
	got := make(chan url.Values, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.Query()
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer ts.Close()

	ch, err := New(ts.URL).Stream(context.Background(), "a b&c", "m9")
	require.NoError(t, err)
	collect(ch)

	q := <-got
	assert.Equal(t, "a b&c", q.Get("prompt"))
	assert.Equal(t, "m9", q.Get("message_id"))
}

func TestStreamDuplicate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Message already processed")
	}))
	defer ts.Close()

	_, err := New(ts.URL).Stream(context.Background(), "hi", "m1")
	assert.True(t, errors.Is(err, domain.ErrDuplicateRequest), "err = %v", err)
}

func TestStreamStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrMissingParameter},
		{http.StatusServiceUnavailable, domain.ErrPoolFull},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		_, err := New(ts.URL).Stream(context.Background(), "hi", "m1")
		ts.Close()
		assert.ErrorIs(t, err, tt.want)
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"stream_start\",\"message_id\":\"m1\",\"role\":\"assistant\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New(ts.URL).Stream(ctx, "hi", "m1")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, domain.StreamStart, first.Type)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestCancelAndModels(t *testing.T) {
	auth := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sse/cancel", func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		if r.URL.Query().Get("message_id") == "live" {
			io.WriteString(w, `{"cancelled":true}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"name":"qwen3:32b","size":1}]`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c := New(ts.URL, WithToken("tok"))

	ok, err := c.Cancel(context.Background(), "live")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Bearer tok", <-auth)

	ok, err = c.Cancel(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)
	<-auth

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "qwen3:32b", models[0].Name)
}
