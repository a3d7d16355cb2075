package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateLLM(cfg, ve)
	validateStream(cfg, ve)
	validateRegistry(cfg, ve)
	validateHistory(cfg, ve)
	validateScheduler(cfg, ve)
	validateCluster(cfg, ve)
	validateLogger(cfg, ve)
	validateClient(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Addr == "" {
		ve.Add("server.addr is required")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", s.Addr)
	}
	if s.ShutdownTimeout < 0 {
		ve.Add("server.shutdown_timeout must be >= 0")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.PerMinute <= 0 {
			ve.Add("server.rate_limit.per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
	switch s.Auth.Type {
	case "":
	case "static":
		if len(s.Auth.Tokens) == 0 {
			ve.Add("server.auth.tokens must not be empty when auth type is static")
		}
		for i, t := range s.Auth.Tokens {
			if t.Token == "" {
				ve.Add("server.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("server.auth.type %q is invalid (want: static or empty)", s.Auth.Type)
	}
}

var validProviderTypes = map[string]bool{
	"ollama": true,
	"openai": true,
	"lorem":  true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: ollama, openai, lorem)", i, p.Type)
		}
		if p.Type == "openai" && p.APIKey == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CHATSTREAM_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, envName(p.Name))
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			ve.Add("llm.providers[%d] (%s): temperature must be within [0, 2]", i, p.Name)
		}
		if p.TopP < 0 || p.TopP > 1 {
			ve.Add("llm.providers[%d] (%s): top_p must be within [0, 1]", i, p.Name)
		}
		if p.TopK < 0 || p.MaxTokens < 0 {
			ve.Add("llm.providers[%d] (%s): top_k and max_tokens must be >= 0", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	s := cfg.Stream
	if s.ChunkThreshold < 1 || s.ChunkThreshold > 100 {
		ve.Add("stream.chunk_threshold must be within [1, 100]")
	}
	if s.KeepaliveTimeout <= 0 {
		ve.Add("stream.keepalive_timeout must be > 0")
	}
	if s.JoinTimeout <= 0 {
		ve.Add("stream.join_timeout must be > 0")
	}
	if s.Workers <= 0 {
		ve.Add("stream.workers must be > 0")
	}
	if s.QueueDepth < 0 {
		ve.Add("stream.queue_depth must be >= 0")
	}
}

func validateRegistry(cfg *Config, ve *ValidationError) {
	r := cfg.Registry
	if r.ProcessedSize <= 0 {
		ve.Add("registry.processed_size must be > 0")
	}
	if r.ProcessedTTL <= 0 {
		ve.Add("registry.processed_ttl must be > 0")
	}
	if r.MaxSessionAge < 0 {
		ve.Add("registry.max_session_age must be >= 0")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	if !cfg.History.Enabled {
		return
	}
	if cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
	if cfg.History.Retention < 0 {
		ve.Add("history.retention must be >= 0")
	}
}

var validActions = map[string]bool{
	"session_reap":  true,
	"history_prune": true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: session_reap, history_prune)", i, t.Action)
		}
	}
}

func validateCluster(cfg *Config, ve *ValidationError) {
	if !cfg.Cluster.Enabled {
		return
	}
	if cfg.Cluster.RedisURL == "" {
		ve.Add("cluster.redis_url is required when cluster is enabled")
	} else if u, err := url.Parse(cfg.Cluster.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		ve.Add("cluster.redis_url %q must use the redis:// or rediss:// scheme", cfg.Cluster.RedisURL)
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if f := cfg.Logger.Format; f != "" && f != "text" && f != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", f)
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	if cfg.Client.URL != "" {
		if u, err := url.Parse(cfg.Client.URL); err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("client.url %q is not an absolute URL", cfg.Client.URL)
		}
	}
	if cfg.Client.ThinkingCollapseDelay < 0 || cfg.Client.TypewriterSpeed < 0 {
		ve.Add("client delays must be >= 0")
	}
	if cfg.Client.TypewriterSpeed > time.Second {
		ve.Add("client.typewriter_speed must be <= 1s")
	}
}
