//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"chatstream/internal/adapter/gateway"
	"chatstream/internal/adapter/llm"
	"chatstream/internal/adapter/sseclient"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/usecase/eventbus"
	"chatstream/internal/usecase/stream"
)

// startServer runs the full gateway over provider and returns its URL.
func startServer(t *testing.T, provider domain.StreamingLLMProvider, opts stream.Options) string {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(logger)
	pool := stream.NewPool(4, 4, logger)
	svc := stream.NewService(stream.Deps{
		Provider: provider,
		Registry: stream.NewRegistry(100, time.Minute, logger),
		Pool:     pool,
		Bus:      bus,
		Logger:   logger,
	}, opts)

	srv := gateway.NewServer(gateway.Options{CORSOrigin: "*"}, logger)
	gateway.RegisterHandlers(srv, gateway.HandlerDeps{
		Stream:           svc,
		Bus:              bus,
		Logger:           logger,
		KeepaliveTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
		pool.Stop(context.Background())
		bus.Close()
	})
	return ts.URL
}

// converse sends prompt and collects every event until the stream ends.
func converse(t *testing.T, ctx context.Context, url, prompt string) []domain.StreamEvent {
	t.Helper()
	ch, err := sseclient.New(url).Stream(ctx, prompt, sseclient.NewMessageID())
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	var events []domain.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// checkWellFormed asserts the ordering guarantees every stream must keep.
func checkWellFormed(t *testing.T, events []domain.StreamEvent) string {
	t.Helper()
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least start and complete", len(events))
	}
	if events[0].Type != domain.StreamStart {
		t.Errorf("first event = %s, want stream_start", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != domain.StreamComplete {
		t.Fatalf("last event = %s (%s), want stream_complete", last.Type, last.Error)
	}

	var sb strings.Builder
	depth := 0
	for _, ev := range events[1 : len(events)-1] {
		switch ev.Type {
		case domain.StreamContent:
			sb.WriteString(ev.Chunk)
		case domain.ThinkingStart:
			depth++
		case domain.ThinkingEnd:
			depth--
		}
		if depth < 0 || depth > 1 {
			t.Fatalf("thinking sections badly nested at %+v", ev)
		}
	}
	if depth != 0 {
		t.Error("thinking section left open")
	}

	if chunks := sb.String(); chunks != last.FullContent {
		t.Errorf("content chunks %q do not add up to full content %q", chunks, last.FullContent)
	}
	return last.FullContent
}

func TestE2E_LoremPipeline(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, 30*time.Second)

	provider := llm.NewLoremProvider(config.ProviderConfig{
		Name:       "lorem",
		Think:      true,
		MaxTokens:  40,
		TokenDelay: time.Millisecond,
	})
	url := startServer(t, provider, stream.Options{ChunkThreshold: 3, CloseOpenThinking: true, Think: true})

	events := converse(t, ctx, url, "tell me something")
	checkWellFormed(t, events)
	if !slices.ContainsFunc(events, func(ev domain.StreamEvent) bool { return ev.Type == domain.ThinkingStart }) {
		t.Error("lorem with thinking should produce a thinking section")
	}
}

func TestE2E_DuplicateMessageID(t *testing.T) {
	SkipIfShort(t)
	ctx := NewTestContext(t, 30*time.Second)

	provider := llm.NewLoremProvider(config.ProviderConfig{Name: "lorem", MaxTokens: 5, TokenDelay: -1})
	url := startServer(t, provider, stream.Options{})
	client := sseclient.New(url)
	id := sseclient.NewMessageID()

	ch, err := client.Stream(ctx, "first", id)
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}
	for range ch {
	}

	_, err = client.Stream(ctx, "again", id)
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("second stream err = %v, want ErrDuplicateRequest", err)
	}
}

func TestE2E_OllamaStream(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	ctx := NewTestContext(t, cfg.TestTimeout)

	provider := llm.NewOllamaProvider(config.ProviderConfig{
		Name:    "ollama",
		Type:    "ollama",
		BaseURL: cfg.OllamaHost,
		Model:   cfg.OllamaModel,
		Think:   true,
	}, slog.New(slog.DiscardHandler))
	if !provider.IsHealthy(ctx) {
		t.Skipf("Skipping Ollama integration test: no daemon at %s", cfg.OllamaHost)
	}

	url := startServer(t, provider, stream.Options{
		Model:             cfg.OllamaModel,
		Think:             true,
		ChunkThreshold:    3,
		CloseOpenThinking: true,
	})

	full := checkWellFormed(t, converse(t, ctx, url, "What is 2+2? Answer with one number."))
	t.Logf("Ollama answer: %s", full)
	if !strings.Contains(full, "4") {
		t.Errorf("expected the answer to mention 4: %q", full)
	}
}

func TestE2E_OpenAIStream(t *testing.T) {
	SkipIfShort(t)
	cfg := LoadConfig()
	SkipIfNoAPIKey(t, cfg.OpenAIKey, "OPENAI")
	if cfg.SkipSlow {
		t.Skip("Skipping slow test")
	}
	ctx := NewTestContext(t, cfg.TestTimeout)

	provider := llm.NewOpenAIProvider(config.ProviderConfig{
		Name:    "openai",
		Type:    "openai",
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
	}, slog.New(slog.DiscardHandler))
	url := startServer(t, provider, stream.Options{Model: cfg.OpenAIModel, CloseOpenThinking: true})

	full := checkWellFormed(t, converse(t, ctx, url, "Reply with the single word: pong"))
	if !strings.Contains(strings.ToLower(full), "pong") {
		t.Errorf("unexpected answer: %q", full)
	}
}
