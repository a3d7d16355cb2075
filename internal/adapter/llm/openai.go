package llm

import (
	"context"
	"encoding/json"
	"fmt"
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
	_ domain.LLMProvider          = (*OpenAIProvider)(nil)
	_ domain.StreamingLLMProvider = (*OpenAIProvider)(nil)
)

// OpenAIProvider implements the chat completions API of any
// OpenAI-compatible server (OpenAI, vLLM, llama.cpp, LM Studio, Ollama /v1).
type OpenAIProvider struct {
	name     string
	apiKey   string
	baseURL  string
	defaults config.ProviderConfig
	client   *http.Client
	logger   *slog.Logger
}

func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:     cfg.Name,
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		defaults: cfg,
		client:   NewHTTPClient(cfg),
		logger:   logger,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// --- wire types ---

type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ReasoningContent is the DeepSeek / vLLM extension carrying the
	// reasoning trace of thinking models.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Created int64          `json:"created"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u openaiUsage) domain() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiMessage `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

func (p *OpenAIProvider) toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	d := p.defaults
	out := openaiRequest{
		Model:     pick(req.Model, d.Model),
		Messages:  make([]openaiMessage, len(req.Messages)),
		MaxTokens: pick(req.MaxTokens, d.MaxTokens),
		Stream:    req.Stream,
	}
	for i, m := range req.Messages {
		out.Messages[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}
	if t := pick(req.Temperature, d.Temperature); t > 0 {
		out.Temperature = &t
	}
	if tp := pick(req.TopP, d.TopP); tp > 0 {
		out.TopP = &tp
	}
	if out.Stream {
		out.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	return out
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	req.Stream = false
	body, err := json.Marshal(p.toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromOpenAIResponse(resp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)
	return result, nil
}

func fromOpenAIResponse(resp openaiResponse) *domain.ChatResponse {
	created := time.Unix(resp.Created, 0)
	result := &domain.ChatResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		Usage:     resp.Usage.domain(),
		CreatedAt: created,
	}
	if len(resp.Choices) > 0 {
		m := resp.Choices[0].Message
		result.Message = domain.Message{
			Role:      m.Role,
			Content:   m.Content,
			Thinking:  m.ReasoningContent,
			Timestamp: created,
		}
	}
	return result
}

// ChatStream implements domain.StreamingLLMProvider over server-sent events.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	req.Stream = true
	body, err := json.Marshal(p.toOpenAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", "text/event-stream", body, p.headers())
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, resp.Body, func(data []byte) (*domain.StreamDelta, error) {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		delta := &domain.StreamDelta{}
		if len(chunk.Choices) > 0 {
			c := chunk.Choices[0]
			delta.Content = c.Delta.Content
			delta.Thinking = c.Delta.ReasoningContent
		}
		if chunk.Usage != nil {
			u := chunk.Usage.domain()
			delta.Usage = &u
		}
		// finish_reason arrives before the trailing usage chunk and [DONE];
		// completion is signalled by [DONE].
		return delta, nil
	}), nil
}
