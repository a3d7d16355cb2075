package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/tracer"
)

var (
	_ domain.LLMProvider          = (*OllamaProvider)(nil)
	_ domain.StreamingLLMProvider = (*OllamaProvider)(nil)
	_ domain.ModelLister          = (*OllamaProvider)(nil)
)

// Local daemons connect fast but may spend minutes loading a model.
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
	ollamaDefaultBaseURL     = "http://localhost:11434"
)

// OllamaProvider talks to the native Ollama API (/api/chat), which streams
// newline-delimited JSON and reports reasoning output in a separate
// "thinking" field.
type OllamaProvider struct {
	name     string
	baseURL  string
	defaults config.ProviderConfig
	client   *http.Client
	logger   *slog.Logger
}

// NewOllamaProvider builds a provider from cfg. Zero timeouts fall back to
// Ollama-friendly defaults.
func NewOllamaProvider(cfg config.ProviderConfig, logger *slog.Logger) *OllamaProvider {
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = ollamaDefaultRespTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}

	return &OllamaProvider{
		name:     cfg.Name,
		baseURL:  baseURL,
		defaults: cfg,
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

func (p *OllamaProvider) Name() string { return p.name }

// BaseURL returns the daemon address in use.
func (p *OllamaProvider) BaseURL() string { return p.baseURL }

// --- wire types ---

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    bool            `json:"think,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (c ollamaChatChunk) usage() *domain.Usage {
	if !c.Done {
		return nil
	}
	return &domain.Usage{
		PromptTokens:     c.PromptEvalCount,
		CompletionTokens: c.EvalCount,
		TotalTokens:      c.PromptEvalCount + c.EvalCount,
	}
}

// toOllamaRequest fills unset sampling fields from the provider config.
func (p *OllamaProvider) toOllamaRequest(req domain.ChatRequest, stream bool) ollamaChatRequest {
	d := p.defaults
	model := req.Model
	if model == "" {
		model = d.Model
	}

	opts := ollamaOptions{
		Temperature: pick(req.Temperature, d.Temperature),
		TopP:        pick(req.TopP, d.TopP),
		TopK:        pick(req.TopK, d.TopK),
		NumPredict:  pick(req.MaxTokens, d.MaxTokens),
	}

	msgs := make([]ollamaMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaMessage{Role: m.Role, Content: m.Content}
	}

	out := ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   stream,
		Think:    req.Think || d.Think,
	}
	if opts != (ollamaOptions{}) {
		out.Options = &opts
	}
	return out
}

func pick[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// Chat implements domain.LLMProvider with a non-streaming /api/chat call.
func (p *OllamaProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(p.toOllamaRequest(req, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/api/chat", body, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var chunk ollamaChatChunk
	if err := json.Unmarshal(respBody, &chunk); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if chunk.Error != "" {
		err := fmt.Errorf("%w: %s", domain.ErrProviderError, chunk.Error)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := &domain.ChatResponse{
		Model: chunk.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   chunk.Message.Content,
			Thinking:  chunk.Message.Thinking,
			Timestamp: chunk.CreatedAt,
		},
		CreatedAt: chunk.CreatedAt,
	}
	if u := chunk.usage(); u != nil {
		result.Usage = *u
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)
	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider. Content and thinking
// arrive as separate delta fields; an in-stream {"error": ...} line becomes
// a terminal Err delta.
func (p *OllamaProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	body, err := json.Marshal(p.toOllamaRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doStreamRequest(ctx, p.client, p.baseURL+"/api/chat", "application/x-ndjson", body, nil)
	if err != nil {
		return nil, err
	}

	return parseNDJSONStream(ctx, resp.Body, func(data []byte) (*domain.StreamDelta, error) {
		var c ollamaChatChunk
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		if c.Error != "" {
			return &domain.StreamDelta{Err: fmt.Errorf("%w: %s", domain.ErrProviderError, c.Error)}, nil
		}
		return &domain.StreamDelta{
			Content:  c.Message.Content,
			Thinking: c.Message.Thinking,
			Done:     c.Done,
			Usage:    c.usage(),
		}, nil
	}), nil
}

// ListModels returns the models installed on the daemon (/api/tags).
func (p *OllamaProvider) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, p.baseURL+"/api/tags", nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	var tags struct {
		Models []domain.ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if tags.Models == nil {
		tags.Models = []domain.ModelInfo{}
	}
	return tags.Models, nil
}

// IsHealthy reports whether the daemon answers on its root endpoint.
func (p *OllamaProvider) IsHealthy(ctx context.Context) bool {
	req, err := newJSONRequest(ctx, http.MethodGet, p.baseURL+"/", nil, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ErrOllamaUnreachable is returned by Warmup when the daemon is down.
var ErrOllamaUnreachable = errors.New("ollama server not reachable")

// Warmup loads the configured model into memory with an empty generate
// request so the first chat does not pay the load latency.
func (p *OllamaProvider) Warmup(ctx context.Context) error {
	if !p.IsHealthy(ctx) {
		return fmt.Errorf("%w at %s", ErrOllamaUnreachable, p.baseURL)
	}

	p.logger.Info("warming up ollama model", "model", p.defaults.Model, "base_url", p.baseURL)
	payload := fmt.Appendf(nil, `{"model":%q,"keep_alive":"5m"}`, p.defaults.Model)

	resp, err := doStreamRequest(ctx, p.client, p.baseURL+"/api/generate", "", payload, nil)
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	p.logger.Info("ollama model warmed up", "model", p.defaults.Model)
	return nil
}
