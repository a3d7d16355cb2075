package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Stream    StreamConfig    `yaml:"stream"`
	Registry  RegistryConfig  `yaml:"registry"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Client    ClientConfig    `yaml:"client"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string          `yaml:"addr"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	CORSOrigin        string          `yaml:"cors_origin"`
	WebSocket         bool            `yaml:"websocket"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Auth              AuthConfig      `yaml:"auth"`
}

// RateLimitConfig holds per-client request rate limits.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
}

// AuthConfig protects the administrative endpoints (status list, cancel, history).
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single bearer token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// FailoverConfig holds provider failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	TopK        int           `yaml:"top_k"`
	MaxTokens   int           `yaml:"max_tokens"`
	Think       bool          `yaml:"think"`
	Warmup      bool          `yaml:"warmup"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	// TokenDelay paces the lorem provider's output.
	TokenDelay time.Duration `yaml:"token_delay,omitempty"`
}

// StreamConfig tunes the per-request streaming pipeline.
type StreamConfig struct {
	ChunkThreshold    int           `yaml:"chunk_threshold"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout"`
	JoinTimeout       time.Duration `yaml:"join_timeout"`
	CloseOpenThinking bool          `yaml:"close_open_thinking"`
	Workers           int           `yaml:"workers"`
	QueueDepth        int           `yaml:"queue_depth"`
}

// RegistryConfig bounds the session registry.
type RegistryConfig struct {
	ProcessedSize int           `yaml:"processed_size"`
	ProcessedTTL  time.Duration `yaml:"processed_ttl"`
	MaxSessionAge time.Duration `yaml:"max_session_age"`
}

// HistoryConfig holds transcript persistence settings.
type HistoryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// SchedulerConfig holds periodic maintenance settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
}

// ClientConfig holds terminal chat client settings.
type ClientConfig struct {
	URL                   string        `yaml:"url"`
	Token                 string        `yaml:"token,omitempty"`
	ShowThinking          bool          `yaml:"show_thinking"`
	ThinkingAutoCollapse  bool          `yaml:"thinking_auto_collapse"`
	ThinkingCollapseDelay time.Duration `yaml:"thinking_collapse_delay"`
	TypewriterSpeed       time.Duration `yaml:"typewriter_speed"`
}

// ClusterConfig shares processed message ids and cancel requests between
// replicas through Redis.
type ClusterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"` // redis://[:password@]host:port/db
	NodeID   string `yaml:"node_id"`   // defaults to the hostname
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.chatstream.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".chatstream")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8050",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigin:        "*",
			WebSocket:         true,
			RateLimit: RateLimitConfig{
				Enabled:   true,
				PerMinute: 120,
				Burst:     20,
			},
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: []ProviderConfig{{
				Name:        "ollama",
				Type:        "ollama",
				BaseURL:     "http://localhost:11434",
				Model:       "qwen3:32b",
				Temperature: 0.7,
				TopP:        0.9,
				TopK:        40,
				MaxTokens:   2048,
			}},
		},
		Stream: StreamConfig{
			ChunkThreshold:    3,
			KeepaliveTimeout:  30 * time.Second,
			JoinTimeout:       5 * time.Second,
			CloseOpenThinking: true,
			Workers:           8,
			QueueDepth:        32,
		},
		Registry: RegistryConfig{
			ProcessedSize: 1000,
			ProcessedTTL:  30 * time.Minute,
			MaxSessionAge: 15 * time.Minute,
		},
		History: HistoryConfig{
			Enabled:   false,
			Path:      filepath.Join(defaultDataDir(), "history.db"),
			Retention: 30 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Tasks: []ScheduledTaskConfig{
				{Name: "reap-stale-streams", Schedule: "1m", Action: "session_reap"},
				{Name: "prune-history", Schedule: "@daily", Action: "history_prune"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Client: ClientConfig{
			URL:                   "http://localhost:8050",
			ShowThinking:          true,
			ThinkingAutoCollapse:  true,
			ThinkingCollapseDelay: 300 * time.Millisecond,
			TypewriterSpeed:       30 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass so the main file takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CHATSTREAM_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultProvider returns the configuration of the default provider.
func (c *Config) DefaultProvider() (ProviderConfig, bool) {
	for _, p := range c.LLM.Providers {
		if p.Name == c.LLM.DefaultProvider {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ApplyEnvOverrides maps CHATSTREAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATSTREAM_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CHATSTREAM_SERVER_CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := os.Getenv("CHATSTREAM_AUTH_TOKENS"); v != "" {
		cfg.Server.Auth.Type = "static"
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Server.Auth.Tokens = append(cfg.Server.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  "env-" + strconv.Itoa(i),
			})
		}
	}
	if v := os.Getenv("CHATSTREAM_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CHATSTREAM_STREAM_CHUNK_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.ChunkThreshold = n
		}
	}
	if v := os.Getenv("CHATSTREAM_STREAM_KEEPALIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.KeepaliveTimeout = d
		}
	}
	if v := os.Getenv("CHATSTREAM_STREAM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.Workers = n
		}
	}
	if v := os.Getenv("CHATSTREAM_HISTORY_ENABLED"); v != "" {
		cfg.History.Enabled = v == "true"
	}
	if v := os.Getenv("CHATSTREAM_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("CHATSTREAM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CHATSTREAM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CHATSTREAM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CHATSTREAM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CHATSTREAM_CLUSTER_REDIS_URL"); v != "" {
		cfg.Cluster.Enabled = true
		cfg.Cluster.RedisURL = v
	}
	if v := os.Getenv("CHATSTREAM_CLUSTER_NODE_ID"); v != "" {
		cfg.Cluster.NodeID = v
	}
	if v := os.Getenv("CHATSTREAM_CLIENT_URL"); v != "" {
		cfg.Client.URL = v
	}

	// Ollama's own variable for the daemon address.
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Type == "ollama" {
				cfg.LLM.Providers[i].BaseURL = normalizeOllamaHost(v)
			}
		}
	}

	// Per-provider overrides: CHATSTREAM_LLM_PROVIDER_<NAME>_{API_KEY,BASE_URL,MODEL}.
	for i := range cfg.LLM.Providers {
		prefix := "CHATSTREAM_LLM_PROVIDER_" + envName(cfg.LLM.Providers[i].Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			cfg.LLM.Providers[i].BaseURL = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			cfg.LLM.Providers[i].Model = v
		}
	}
}

// envName upper-cases name and replaces characters not valid in env var names.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// normalizeOllamaHost accepts "host:port" or a full URL.
func normalizeOllamaHost(v string) string {
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return strings.TrimRight(v, "/")
	}
	return "http://" + strings.TrimRight(v, "/")
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in provider API keys and auth tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	for i := range cfg.Server.Auth.Tokens {
		tok := cfg.Server.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("auth token %s: %w", cfg.Server.Auth.Tokens[i].Name, err)
			}
			cfg.Server.Auth.Tokens[i].Token = decrypted
		}
	}

	if strings.HasPrefix(cfg.Client.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Client.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("client token: %w", err)
		}
		cfg.Client.Token = decrypted
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
