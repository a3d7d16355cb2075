package main

import (
	"context"
	"fmt"
	"log/slog"

	"chatstream/internal/adapter/gateway"
	"chatstream/internal/adapter/llm"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// LLMComponents holds all LLM-related components
type LLMComponents struct {
	Registry   *llm.Registry
	DefaultLLM domain.StreamingLLMProvider

	// Set when the default backend supports them.
	Models domain.ModelLister
	Health gateway.HealthChecker
	warmup func(ctx context.Context) error
}

// initLLM builds the configured providers, wraps each in a circuit breaker
// when enabled, and wraps the default in failover when fallbacks are set.
func initLLM(cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	// 1. Create LLM registry
	registry := llm.NewRegistry()
	raw := make(map[string]domain.StreamingLLMProvider, len(cfg.LLM.Providers))

	// 2. Register all configured providers
	cbCfg := cfg.LLM.CircuitBreaker
	for _, pc := range cfg.LLM.Providers {
		provider, err := createLLMProvider(pc, log)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		raw[pc.Name] = provider

		if cbCfg.Enabled {
			provider = llm.NewCircuitBreakerProvider(provider, cbCfg, log)
		}

		if err := registry.Register(provider); err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
	}

	if cbCfg.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cbCfg.MaxFailures,
			"timeout", cbCfg.Timeout,
			"interval", cbCfg.Interval,
		)
	}

	// 3. Get default provider
	defaultLLM, err := registry.Get(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, fmt.Errorf("default llm provider: %w", err)
	}

	// 4. Wrap with failover if enabled
	if cfg.LLM.Failover.Enabled && len(cfg.LLM.Failover.Fallbacks) > 0 {
		var fallbacks []domain.StreamingLLMProvider
		for _, name := range cfg.LLM.Failover.Fallbacks {
			fb, err := registry.Get(name)
			if err != nil {
				return nil, fmt.Errorf("failover provider %s: %w", name, err)
			}
			fallbacks = append(fallbacks, fb)
		}
		defaultLLM = llm.NewFailoverProvider(defaultLLM, fallbacks, log)
		log.Info("model failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
	}

	comp := &LLMComponents{
		Registry:   registry,
		DefaultLLM: defaultLLM,
	}

	// 5. Optional capabilities of the default backend
	base := raw[cfg.LLM.DefaultProvider]
	if lister, ok := base.(domain.ModelLister); ok {
		comp.Models = lister
	}
	if hc, ok := base.(gateway.HealthChecker); ok {
		comp.Health = hc
	}
	if pc, ok := cfg.DefaultProvider(); ok && pc.Warmup {
		if op, ok := base.(*llm.OllamaProvider); ok {
			comp.warmup = op.Warmup
		}
	}

	return comp, nil
}

// Warmup preloads the default model when configured to. Failure is logged,
// never fatal.
func (c *LLMComponents) Warmup(ctx context.Context, log *slog.Logger) {
	if c.warmup == nil {
		return
	}
	if err := c.warmup(ctx); err != nil {
		log.Warn("model warmup failed", "error", err)
	}
}

func createLLMProvider(pc config.ProviderConfig, log *slog.Logger) (domain.StreamingLLMProvider, error) {
	switch pc.Type {
	case "ollama":
		return llm.NewOllamaProvider(pc, log), nil
	case "openai":
		return llm.NewOpenAIProvider(pc, log), nil
	case "lorem":
		return llm.NewLoremProvider(pc), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}
