package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.LLM.DefaultProvider != "ollama" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "ollama")
	}
	p, ok := cfg.DefaultProvider()
	if !ok {
		t.Fatal("default provider not found")
	}
	if p.Model != "qwen3:32b" || p.BaseURL != "http://localhost:11434" {
		t.Errorf("provider = %+v", p)
	}
	if p.Temperature != 0.7 || p.TopP != 0.9 || p.TopK != 40 || p.MaxTokens != 2048 {
		t.Errorf("sampling defaults = %+v", p)
	}
	if cfg.Stream.ChunkThreshold != 3 {
		t.Errorf("ChunkThreshold = %d, want 3", cfg.Stream.ChunkThreshold)
	}
	if cfg.Stream.KeepaliveTimeout != 30*time.Second || cfg.Stream.JoinTimeout != 5*time.Second {
		t.Errorf("stream timeouts = %v / %v", cfg.Stream.KeepaliveTimeout, cfg.Stream.JoinTimeout)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8050" {
		t.Errorf("expected defaults, got Addr=%q", cfg.Server.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
server:
  addr: "127.0.0.1:9000"
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "ollama"
      base_url: "http://gpu-box:11434"
      model: "deepseek-r1:14b"
      temperature: 0.2
stream:
  chunk_threshold: 8
  keepalive_timeout: 15s
logger:
  level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	p, ok := cfg.DefaultProvider()
	if !ok || p.Model != "deepseek-r1:14b" || p.Temperature != 0.2 {
		t.Errorf("provider = %+v (found %v)", p, ok)
	}
	if cfg.Stream.ChunkThreshold != 8 || cfg.Stream.KeepaliveTimeout != 15*time.Second {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	// Untouched sections keep their defaults.
	if cfg.Stream.JoinTimeout != 5*time.Second {
		t.Errorf("JoinTimeout = %v, want default", cfg.Stream.JoinTimeout)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "config.yaml", "logger:\n  level: info\n")
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATSTREAM_SERVER_ADDR", ":9999")
	t.Setenv("CHATSTREAM_STREAM_CHUNK_THRESHOLD", "12")
	t.Setenv("CHATSTREAM_STREAM_KEEPALIVE_TIMEOUT", "5s")
	t.Setenv("CHATSTREAM_LOGGER_LEVEL", "debug")
	t.Setenv("CHATSTREAM_HISTORY_ENABLED", "true")
	t.Setenv("CHATSTREAM_AUTH_TOKENS", "a, b")
	t.Setenv("CHATSTREAM_LLM_PROVIDER_OLLAMA_MODEL", "llama3.2")
	t.Setenv("CHATSTREAM_CLUSTER_REDIS_URL", "redis://cache:6379/1")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Stream.ChunkThreshold != 12 || cfg.Stream.KeepaliveTimeout != 5*time.Second {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Logger.Level != "debug" || !cfg.History.Enabled {
		t.Errorf("logger/history not overridden")
	}
	if cfg.Server.Auth.Type != "static" || len(cfg.Server.Auth.Tokens) != 2 || cfg.Server.Auth.Tokens[1].Token != "b" {
		t.Errorf("auth = %+v", cfg.Server.Auth)
	}
	if p, _ := cfg.DefaultProvider(); p.Model != "llama3.2" {
		t.Errorf("Model = %q", p.Model)
	}
	if !cfg.Cluster.Enabled || cfg.Cluster.RedisURL != "redis://cache:6379/1" {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
}

func TestOllamaHostOverride(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "10.0.0.5:11434")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if p, _ := cfg.DefaultProvider(); p.BaseURL != "http://10.0.0.5:11434" {
		t.Errorf("BaseURL = %q", p.BaseURL)
	}
}

func TestEncryptDecryptValue(t *testing.T) {
	enc, err := EncryptValue("sk-secret", "passphrase")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	got, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "sk-secret" {
		t.Errorf("got %q", got)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	if _, err := DecryptValue("garbage", "passphrase"); err == nil {
		t.Error("expected format error")
	}
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("sk-live", "k")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfigFile(t, t.TempDir(), "config.yaml", `
llm:
  default_provider: "cloud"
  providers:
    - name: "cloud"
      type: "openai"
      api_key: "enc:`+enc+`"
      model: "gpt-4o-mini"
`)
	t.Setenv("CHATSTREAM_CONFIG_KEY", "k")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p, _ := cfg.DefaultProvider(); p.APIKey != "sk-live" {
		t.Errorf("APIKey = %q", p.APIKey)
	}
}

func TestIncludesOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "providers.yaml", `
llm:
  default_provider: "dev"
  providers:
    - name: "dev"
      type: "lorem"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "providers.yaml"
logger:
  level: "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p, ok := cfg.DefaultProvider(); !ok || p.Type != "lorem" {
		t.Errorf("provider not loaded from include: %+v", cfg.LLM.Providers)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logger.Level)
	}
}

func TestIncludesCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - b.yaml\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - a.yaml\n")
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - a.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestIncludesEscape(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", "includes:\n  - ../outside.yaml\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape error, got %v", err)
	}
}
