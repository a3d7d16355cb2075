package config

import (
	"errors"
	"strings"
	"testing"
)

func assertValidationContains(t *testing.T, cfg *Config, want string) {
	t.Helper()
	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, e := range ve.Errors {
		if strings.Contains(e, want) {
			return
		}
	}
	t.Errorf("validation errors %q do not contain %q", ve.Errors, want)
}

func TestValidateServer(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = "no-port"
	assertValidationContains(t, cfg, "server.addr")

	cfg = Defaults()
	cfg.Server.Auth.Type = "static"
	assertValidationContains(t, cfg, "server.auth.tokens must not be empty")

	cfg = Defaults()
	cfg.Server.Auth.Type = "oauth"
	assertValidationContains(t, cfg, "server.auth.type")

	cfg = Defaults()
	cfg.Server.RateLimit.PerMinute = 0
	assertValidationContains(t, cfg, "per_minute")
}

func TestValidateLLM(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "missing"
	assertValidationContains(t, cfg, "does not match any configured provider")

	cfg = Defaults()
	cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{Name: "cloud", Type: "openai"})
	assertValidationContains(t, cfg, "CHATSTREAM_LLM_PROVIDER_CLOUD_API_KEY")

	cfg = Defaults()
	cfg.LLM.Providers[0].Type = "bedrock"
	assertValidationContains(t, cfg, "type \"bedrock\" is invalid")

	cfg = Defaults()
	cfg.LLM.Providers[0].TopP = 1.5
	assertValidationContains(t, cfg, "top_p")

	cfg = Defaults()
	cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}}
	assertValidationContains(t, cfg, "unknown provider \"ghost\"")

	cfg = Defaults()
	cfg.LLM.Providers = append(cfg.LLM.Providers, cfg.LLM.Providers[0])
	assertValidationContains(t, cfg, "duplicate provider name")
}

func TestValidateStream(t *testing.T) {
	cfg := Defaults()
	cfg.Stream.ChunkThreshold = 0
	assertValidationContains(t, cfg, "chunk_threshold")

	cfg = Defaults()
	cfg.Stream.KeepaliveTimeout = 0
	assertValidationContains(t, cfg, "keepalive_timeout")

	cfg = Defaults()
	cfg.Stream.Workers = 0
	assertValidationContains(t, cfg, "workers")
}

func TestValidateSchedulerActions(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{Name: "x", Schedule: "1m", Action: "send_email"}}
	assertValidationContains(t, cfg, "action \"send_email\" is invalid")

	cfg.Scheduler.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled scheduler should not be validated: %v", err)
	}
}

func TestValidateHistoryAndLogger(t *testing.T) {
	cfg := Defaults()
	cfg.History.Enabled = true
	cfg.History.Path = ""
	assertValidationContains(t, cfg, "history.path")

	cfg = Defaults()
	cfg.Logger.Format = "xml"
	assertValidationContains(t, cfg, "logger.format")
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Stream.JoinTimeout = 0
	cfg.Registry.ProcessedSize = 0

	var ve *ValidationError
	if !errors.As(Validate(cfg), &ve) {
		t.Fatal("expected *ValidationError")
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(ve.Error(), "config validation failed:") {
		t.Errorf("Error() = %q", ve.Error())
	}
}

func TestValidateCluster(t *testing.T) {
	cfg := Defaults()
	cfg.Cluster.Enabled = true
	assertValidationContains(t, cfg, "cluster.redis_url is required")

	cfg = Defaults()
	cfg.Cluster.Enabled = true
	cfg.Cluster.RedisURL = "http://localhost:6379"
	assertValidationContains(t, cfg, "redis:// or rediss://")

	cfg = Defaults()
	cfg.Cluster.Enabled = true
	cfg.Cluster.RedisURL = "redis://localhost:6379/0"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid cluster config rejected: %v", err)
	}
}
