package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chatstream/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config; some checks work without it.
	cfg, cfgErr := loadConfig()

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM providers", Fn: checkProviders},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Listen address", Fn: checkListenAddr},
		{Name: "History store", Fn: checkHistoryStore},
		{Name: "Cluster", Fn: checkCluster},
		{Name: "Chat server", Fn: checkChatServer},
	}

	fmt.Println("chatstream doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure chatstream runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nchatstream should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! chatstream is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config file exists and loads. A missing
// file is only a warning because the defaults target a local Ollama.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the CHATSTREAM_* environment variables",
			}
		}

		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create config.yaml or pass --config PATH",
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkProviders verifies the default provider exists and hosted providers
// carry an API key.
func checkProviders(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var names, missing []string
	for _, p := range cfg.LLM.Providers {
		names = append(names, p.Name+" ("+p.Type+")")
		if p.Type == "openai" && p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API key for: %s", strings.Join(missing, ", ")),
			Fix:     "Set CHATSTREAM_LLM_PROVIDER_<NAME>_API_KEY",
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("default %q; configured: %s", cfg.LLM.DefaultProvider, strings.Join(names, ", ")),
	}
}

// checkLLMConnectivity tests if the default LLM backend is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}

	provider, ok := cfg.DefaultProvider()
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s is a local %s provider, nothing to reach", provider.Name, provider.Type),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		fix := "Check your network connection and the provider's base_url"
		if provider.Type == "ollama" {
			fix = "Start Ollama with 'ollama serve' or set OLLAMA_HOST"
		}
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     fix,
		}
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered %d at %s", provider.Name, resp.StatusCode, endpoint),
		}
	}

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a health/ping URL for the given provider, or ""
// when the provider needs no network.
func providerEndpoint(p config.ProviderConfig) string {
	switch p.Type {
	case "ollama":
		baseURL := "http://localhost:11434"
		if p.BaseURL != "" {
			baseURL = strings.TrimRight(p.BaseURL, "/")
		}
		return baseURL + "/api/tags"
	case "openai":
		if p.BaseURL != "" {
			return strings.TrimRight(p.BaseURL, "/") + "/models"
		}
		return "https://api.openai.com/v1/models"
	default:
		return ""
	}
}

// checkListenAddr verifies the gateway address can be bound.
func checkListenAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Server.Addr, err),
			Fix:     "Stop the process holding the port or pass --addr",
		}
	}
	ln.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s is free", cfg.Server.Addr),
	}
}

// checkHistoryStore verifies the history directory exists and is writable.
func checkHistoryStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.History.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "history disabled (no persistence)",
		}
	}

	absDir, _ := filepath.Abs(filepath.Dir(cfg.History.Path))

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("history directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("history directory created at %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot stat history directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exists but is not a directory", absDir),
		}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("history directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("history directory %s writable (retention %s)", absDir, cfg.History.Retention),
	}
}

// checkCluster pings Redis when cluster coordination is enabled.
func checkCluster(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Cluster.Enabled {
		return CheckResult{
			Status:  StatusPass,
			Message: "cluster disabled (single node)",
		}
	}

	opts, err := goredis.ParseURL(cfg.Cluster.RedisURL)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid redis url: %v", err),
		}
	}
	client := goredis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("redis not reachable at %s: %v", opts.Addr, err),
			Fix:     "Start Redis or update cluster.redis_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("redis reachable at %s", opts.Addr),
	}
}

// checkChatServer probes the server the chat client talks to.
func checkChatServer(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}

	url := strings.TrimRight(cfg.Client.URL, "/") + "/api/v1/health"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("invalid client.url: %v", err),
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no chatstream server at %s", cfg.Client.URL),
			Fix:     "Start one with 'chatstream serve' before running 'chatstream chat'",
		}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("server at %s reports status %d (backend degraded?)", cfg.Client.URL, resp.StatusCode),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("server healthy at %s", cfg.Client.URL),
	}
}
