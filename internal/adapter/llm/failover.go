package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatstream/internal/domain"
)

var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
)

// FailoverProvider tries a primary provider and then each fallback in order.
// Only stream initiation fails over; a stream that already produced tokens
// is never restarted on another backend.
type FailoverProvider struct {
	chain  []domain.StreamingLLMProvider
	logger *slog.Logger
}

func NewFailoverProvider(primary domain.StreamingLLMProvider, fallbacks []domain.StreamingLLMProvider, logger *slog.Logger) *FailoverProvider {
	chain := make([]domain.StreamingLLMProvider, 0, 1+len(fallbacks))
	chain = append(chain, primary)
	chain = append(chain, fallbacks...)
	return &FailoverProvider{chain: chain, logger: logger}
}

// Name reports the primary with a failover suffix.
func (f *FailoverProvider) Name() string {
	return f.chain[0].Name() + "+failover"
}

func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return try(ctx, f, "chat", func(p domain.StreamingLLMProvider) (*domain.ChatResponse, error) {
		return p.Chat(ctx, req)
	})
}

func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	return try(ctx, f, "stream", func(p domain.StreamingLLMProvider) (<-chan domain.StreamDelta, error) {
		return p.ChatStream(ctx, req)
	})
}

func try[T any](ctx context.Context, f *FailoverProvider, kind string, call func(domain.StreamingLLMProvider) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for i, p := range f.chain {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := call(p)
		if err == nil {
			if i > 0 {
				f.logger.Info("llm failover succeeded", "kind", kind, "provider", p.Name())
			}
			return v, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		f.logger.Warn("llm provider failed", "kind", kind, "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return zero, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}
