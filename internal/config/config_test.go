package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != DefaultServerLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultServerLogLevel, cfg.Server.LogLevel)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Models.Fallback != DefaultModelFallback {
		t.Errorf("Expected fallback model %s, got %s", DefaultModelFallback, cfg.Models.Fallback)
	}
	if cfg.Completion.MaxRetries != DefaultCompletionMaxRetries {
		t.Errorf("Expected default retries %d, got %d", DefaultCompletionMaxRetries, cfg.Completion.MaxRetries)
	}
	if cfg.Completion.MaxTokens.Context != DefaultMaxTokensContext {
		t.Errorf("Expected context max tokens %d, got %d", DefaultMaxTokensContext, cfg.Completion.MaxTokens.Context)
	}
	if cfg.Decision.DailyLimit != DefaultDecisionDailyLimit {
		t.Errorf("Expected daily limit %d, got %d", DefaultDecisionDailyLimit, cfg.Decision.DailyLimit)
	}
	if cfg.Decision.MinAbsence != DefaultDecisionMinAbsence {
		t.Errorf("Expected min absence %s, got %s", DefaultDecisionMinAbsence, cfg.Decision.MinAbsence)
	}
	if cfg.Decision.UrgencyThreshold != DefaultDecisionUrgencyThreshold {
		t.Errorf("Expected urgency threshold %v, got %v", DefaultDecisionUrgencyThreshold, cfg.Decision.UrgencyThreshold)
	}
	if len(cfg.Decision.HumanPhrases) != len(DefaultHumanPhrases) {
		t.Errorf("Expected %d human phrases, got %d", len(DefaultHumanPhrases), len(cfg.Decision.HumanPhrases))
	}
	if cfg.Cache.Backend != DefaultCacheBackend {
		t.Errorf("Expected cache backend %s, got %s", DefaultCacheBackend, cfg.Cache.Backend)
	}
	if cfg.Cache.StyleTTL != DefaultCacheStyleTTL {
		t.Errorf("Expected style ttl %s, got %s", DefaultCacheStyleTTL, cfg.Cache.StyleTTL)
	}
	if cfg.Cache.QuickStyleTTL != DefaultCacheQuickStyleTTL {
		t.Errorf("Expected quick style ttl %s, got %s", DefaultCacheQuickStyleTTL, cfg.Cache.QuickStyleTTL)
	}
	if cfg.Orchestrator.Workers != DefaultOrchestratorWorkers {
		t.Errorf("Expected %d workers, got %d", DefaultOrchestratorWorkers, cfg.Orchestrator.Workers)
	}
	if cfg.Style.MinMessages != DefaultStyleMinMessages {
		t.Errorf("Expected min messages %d, got %d", DefaultStyleMinMessages, cfg.Style.MinMessages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
decision:
  daily_limit: 5
models:
  default: custom-model
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.Decision.DailyLimit != 5 {
		t.Fatalf("expected daily limit 5, got %d", cfg.Decision.DailyLimit)
	}
	if cfg.Models.Default != "custom-model" {
		t.Fatalf("expected default model custom-model, got %s", cfg.Models.Default)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoad_ExpandsConfiguredPaths(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
cache:
  backend: file
  path: ~/.autoreply/state/cache.json
history:
  path: ~/.autoreply/state/history.db
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	wantCache := filepath.Join(tmpDir, ".autoreply", "state", "cache.json")
	if cfg.Cache.Path != wantCache {
		t.Fatalf("cache path = %q, want %q", cfg.Cache.Path, wantCache)
	}
	wantHistory := filepath.Join(tmpDir, ".autoreply", "state", "history.db")
	if cfg.History.Path != wantHistory {
		t.Fatalf("history path = %q, want %q", cfg.History.Path, wantHistory)
	}
}

func TestLoad_InjectsProviderKeysFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	found := false
	for _, m := range cfg.Models.Registry {
		if m.Provider == "openai" {
			found = true
			if m.APIKey != "sk-test" {
				t.Fatalf("openai api key = %q, want sk-test", m.APIKey)
			}
		}
	}
	if !found {
		t.Fatal("expected an openai registry entry")
	}
}

func TestValidate_RejectsBadSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero daily limit", func(c *Config) { c.Decision.DailyLimit = 0 }},
		{"urgency out of range", func(c *Config) { c.Decision.UrgencyThreshold = 1.5 }},
		{"confidence negative", func(c *Config) { c.Decision.ConfidenceThreshold = -0.1 }},
		{"negative retries", func(c *Config) { c.Completion.MaxRetries = -1 }},
		{"bad duration", func(c *Config) { c.Cache.StyleTTL = "two hours" }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"completion outlasts analysis", func(c *Config) {
			c.Completion.Timeout = "5s"
			c.Orchestrator.AnalysisTimeout = "5s"
		}},
		{"missing default model", func(c *Config) { c.Models.Default = " " }},
		{"slack without token", func(c *Config) {
			c.Notify.Slack.Enabled = true
			c.Notify.Slack.BotToken = ""
			c.Notify.Slack.Channel = "#mentors"
		}},
		{"telegram without chat", func(c *Config) {
			c.Notify.Telegram.Enabled = true
			c.Notify.Telegram.BotToken = "123:abc"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(nil)
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			tc.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, autoreplyErrors.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", DefaultCacheQuickStyleTTL)
	if err != nil {
		t.Fatalf("duration default: %v", err)
	}
	if d.Minutes() != 30 {
		t.Fatalf("expected 30m, got %s", d)
	}

	if _, err := DurationOrDefault("-5s", ""); err == nil {
		t.Fatal("expected negative duration to fail")
	}
	if _, err := DurationOrDefault("", ""); err == nil {
		t.Fatal("expected empty duration to fail")
	}
}

func TestLoad_EnvOverridesUnderscoreKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AUTOREPLY_DECISION_DAILY_LIMIT", "7")
	t.Setenv("AUTOREPLY_DECISION_URGENCY_THRESHOLD", "0.8")
	t.Setenv("AUTOREPLY_COMPLETION_MAX_TOKENS_CONTEXT", "90")
	t.Setenv("AUTOREPLY_CACHE_BACKEND", "file")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Decision.DailyLimit != 7 {
		t.Errorf("daily limit = %d, want 7", cfg.Decision.DailyLimit)
	}
	if cfg.Decision.UrgencyThreshold != 0.8 {
		t.Errorf("urgency threshold = %v, want 0.8", cfg.Decision.UrgencyThreshold)
	}
	if cfg.Completion.MaxTokens.Context != 90 {
		t.Errorf("context max tokens = %d, want 90", cfg.Completion.MaxTokens.Context)
	}
	if cfg.Cache.Backend != "file" {
		t.Errorf("cache backend = %q, want file", cfg.Cache.Backend)
	}
}

func TestEnvKeyResolver(t *testing.T) {
	resolve := envKeyResolver(map[string]interface{}{
		"decision.daily_limit":          3,
		"completion.max_tokens.context": 150,
	})

	cases := map[string]string{
		"AUTOREPLY_DECISION_DAILY_LIMIT":          "decision.daily_limit",
		"AUTOREPLY_COMPLETION_MAX_TOKENS_CONTEXT": "completion.max_tokens.context",
		"AUTOREPLY_NOTIFY_SLACK":                  "notify.slack",
	}
	for in, want := range cases {
		if got := resolve(in); got != want {
			t.Errorf("resolve(%q) = %q, want %q", in, got, want)
		}
	}
}
