package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

var _ domain.StreamingLLMProvider = (*LoremProvider)(nil)

const (
	loremDefaultWords  = 60
	loremThinkingWords = 25
	loremDefaultModel  = "lorem"
	loremDefaultDelay  = 20 * time.Millisecond
	loremThinkOpen     = "<think>"
	loremThinkClose    = "</think>"
)

// LoremProvider is an offline backend that streams placeholder text word by
// word. With thinking enabled it prefixes the answer with a <think> section
// written inline in the content stream, the way reasoning models served over
// plain text endpoints do.
type LoremProvider struct {
	name     string
	model    string
	think    bool
	maxWords int
	delay    time.Duration

	mu  sync.Mutex
	gen *loremgen.Lorem
}

func NewLoremProvider(cfg config.ProviderConfig) *LoremProvider {
	delay := cfg.TokenDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = loremDefaultDelay
	}
	return &LoremProvider{
		name:     cfg.Name,
		model:    pick(cfg.Model, loremDefaultModel),
		think:    cfg.Think,
		maxWords: pick(cfg.MaxTokens, loremDefaultWords),
		delay:    delay,
		gen:      loremgen.New(),
	}
}

func (p *LoremProvider) Name() string { return p.name }

// words produces roughly n words of text.
func (p *LoremProvider) words(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for len(out) < n {
		out = append(out, strings.Fields(p.gen.Sentence(5, 12))...)
	}
	return out[:n]
}

// tokens returns the full token sequence for req.
func (p *LoremProvider) tokens(req domain.ChatRequest) []string {
	n := pick(req.MaxTokens, p.maxWords)
	var toks []string
	if req.Think || p.think {
		toks = append(toks, loremThinkOpen)
		for _, w := range p.words(min(loremThinkingWords, n)) {
			toks = append(toks, w+" ")
		}
		toks = append(toks, loremThinkClose)
	}
	answer := p.words(n)
	for i, w := range answer {
		if i < len(answer)-1 {
			w += " "
		}
		toks = append(toks, w)
	}
	return toks
}

// Chat returns the whole placeholder answer at once.
func (p *LoremProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	toks := p.tokens(req)
	now := time.Now()
	return &domain.ChatResponse{
		Model:     pick(req.Model, p.model),
		Message:   domain.Message{Role: domain.RoleAssistant, Content: strings.Join(toks, ""), Timestamp: now},
		Usage:     domain.Usage{CompletionTokens: len(toks), TotalTokens: len(toks)},
		CreatedAt: now,
	}, nil
}

// ChatStream emits one token per delay tick and a final Done delta.
func (p *LoremProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	toks := p.tokens(req)
	ch := make(chan domain.StreamDelta)

	go func() {
		defer close(ch)

		var tick <-chan time.Time
		if p.delay > 0 {
			t := time.NewTicker(p.delay)
			defer t.Stop()
			tick = t.C
		}

		for _, tok := range toks {
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- domain.StreamDelta{Content: tok}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- domain.StreamDelta{
			Done:  true,
			Usage: &domain.Usage{CompletionTokens: len(toks), TotalTokens: len(toks)},
		}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
