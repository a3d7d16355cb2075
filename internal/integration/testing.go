package integration

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	OllamaHost    string
	OllamaModel   string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	TestTimeout   time.Duration
	SkipSlow      bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		OllamaHost:    os.Getenv("OLLAMA_HOST"),
		OllamaModel:   os.Getenv("CHATSTREAM_IT_MODEL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("CHATSTREAM_IT_OPENAI_MODEL"),
		TestTimeout:   2 * time.Minute,
		SkipSlow:      os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://localhost:11434"
	} else if !strings.Contains(cfg.OllamaHost, "://") {
		cfg.OllamaHost = "http://" + cfg.OllamaHost
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = "qwen3:0.6b"
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfNoAPIKey skips the test if the required API key is not set
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
