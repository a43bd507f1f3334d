package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Models       ModelsConfig       `koanf:"models"`
	Completion   CompletionConfig   `koanf:"completion"`
	Decision     DecisionConfig     `koanf:"decision"`
	Style        StyleConfig        `koanf:"style"`
	Cache        CacheConfig        `koanf:"cache"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	History      HistoryConfig      `koanf:"history"`
	Notify       NotifyConfig       `koanf:"notify"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name     string `koanf:"name"`
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type CompletionConfig struct {
	MaxRetries  int             `koanf:"max_retries"`
	BaseBackoff string          `koanf:"base_backoff"`
	MaxBackoff  string          `koanf:"max_backoff"`
	Timeout     string          `koanf:"timeout"`
	Temperature float64         `koanf:"temperature"`
	MaxTokens   MaxTokensConfig `koanf:"max_tokens"`
}

type MaxTokensConfig struct {
	Style       int `koanf:"style"`
	Context     int `koanf:"context"`
	Response    int `koanf:"response"`
	Suggestions int `koanf:"suggestions"`
}

type DecisionConfig struct {
	MinAbsence          string   `koanf:"min_absence"`
	DailyLimit          int      `koanf:"daily_limit"`
	UrgencyThreshold    float64  `koanf:"urgency_threshold"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	HumanPhrases        []string `koanf:"human_phrases"`
}

type StyleConfig struct {
	MaxMessages  int    `koanf:"max_messages"`
	Lookback     string `koanf:"lookback"`
	RecentWindow string `koanf:"recent_window"`
	MinMessages  int    `koanf:"min_messages"`
}

type CacheConfig struct {
	Backend         string      `koanf:"backend"`
	Path            string      `koanf:"path"`
	Redis           RedisConfig `koanf:"redis"`
	StyleTTL        string      `koanf:"style_ttl"`
	QuickStyleTTL   string      `koanf:"quick_style_ttl"`
	DailyCountTTL   string      `koanf:"daily_count_ttl"`
	LastResponseTTL string      `koanf:"last_response_ttl"`
	PruneSchedule   string      `koanf:"prune_schedule"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type OrchestratorConfig struct {
	Workers           int    `koanf:"workers"`
	AnalysisTimeout   string `koanf:"analysis_timeout"`
	GenerationTimeout string `koanf:"generation_timeout"`
	DecisionTimeout   string `koanf:"decision_timeout"`
	SuggestionTimeout string `koanf:"suggestion_timeout"`
}

type HistoryConfig struct {
	Path string `koanf:"path"`
}

type NotifyConfig struct {
	Audit    AuditNotifyConfig    `koanf:"audit"`
	Slack    SlackNotifyConfig    `koanf:"slack"`
	Telegram TelegramNotifyConfig `koanf:"telegram"`
}

type AuditNotifyConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Path           string   `koanf:"path"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

type TelegramNotifyConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   int64  `koanf:"chat_id"`
}

const (
	DefaultServerLogLevel                = "info"
	DefaultModelDefault                  = "gpt-4o-mini"
	DefaultModelFallback                 = "claude-3-5-haiku-latest"
	DefaultModelMaxFallbackAttempts      = 2
	DefaultOpenAIBaseURL                 = "https://api.openai.com/v1"
	DefaultOllamaBaseURL                 = "http://localhost:11434/v1"
	DefaultOllamaAPIKey                  = "ollama"
	DefaultCompletionMaxRetries          = 2
	DefaultCompletionBaseBackoff         = "250ms"
	DefaultCompletionMaxBackoff          = "4s"
	DefaultCompletionTimeout             = "4s"
	DefaultCompletionTemperature         = 0.3
	DefaultMaxTokensStyle                = 400
	DefaultMaxTokensContext              = 150
	DefaultMaxTokensResponse             = 300
	DefaultMaxTokensSuggestions          = 200
	DefaultDecisionMinAbsence            = "240m"
	DefaultDecisionDailyLimit            = 3
	DefaultDecisionUrgencyThreshold      = 0.7
	DefaultDecisionConfidenceThreshold   = 0.6
	DefaultStyleMaxMessages              = 50
	DefaultStyleLookback                 = "2160h"
	DefaultStyleRecentWindow             = "5m"
	DefaultStyleMinMessages              = 3
	DefaultCacheBackend                  = "memory"
	DefaultCacheStyleTTL                 = "2h"
	DefaultCacheQuickStyleTTL            = "30m"
	DefaultCacheDailyCountTTL            = "5m"
	DefaultCacheLastResponseTTL          = "1m"
	DefaultCachePruneSchedule            = "@every 10m"
	DefaultRedisAddr                     = "localhost:6379"
	DefaultOrchestratorWorkers           = 3
	DefaultOrchestratorAnalysisTimeout   = "5s"
	DefaultOrchestratorGenerationTimeout = "8s"
	DefaultOrchestratorDecisionTimeout   = "3s"
	DefaultOrchestratorSuggestionTimeout = "2s"
	DefaultStyleSystemPrompt             = "You analyze how a person writes. Describe their tone and phrasing from the sample messages."
	DefaultUrgencySystemPrompt           = "You assess how time-sensitive an incoming message is for the person it was sent to."
	DefaultResponseSystemPrompt          = "You draft a short reply on behalf of someone who is away, written the way they write."
	DefaultSuggestionSystemPrompt        = "You suggest concrete next actions for someone who will answer a message when they are back."
	DefaultNotifyAuditEnabled            = false
	DefaultNotifySlackEnabled            = false
	DefaultNotifyTelegramEnabled         = false
)

// DefaultHumanPhrases are matched case-insensitively against the incoming message.
var DefaultHumanPhrases = []string{
	"talk to a human",
	"speak to a human",
	"talk to a real person",
	"speak to a real person",
	"not a bot",
	"stop the bot",
	"want a human",
	"need a human",
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	home := os.Getenv("HOME")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.log_level":             DefaultServerLogLevel,
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelFallback, Provider: "anthropic"},
			{Name: "local-llama", Provider: "ollama", BaseURL: DefaultOllamaBaseURL},
		},
		"completion.max_retries":            DefaultCompletionMaxRetries,
		"completion.base_backoff":           DefaultCompletionBaseBackoff,
		"completion.max_backoff":            DefaultCompletionMaxBackoff,
		"completion.timeout":                DefaultCompletionTimeout,
		"completion.temperature":            DefaultCompletionTemperature,
		"completion.max_tokens.style":       DefaultMaxTokensStyle,
		"completion.max_tokens.context":     DefaultMaxTokensContext,
		"completion.max_tokens.response":    DefaultMaxTokensResponse,
		"completion.max_tokens.suggestions": DefaultMaxTokensSuggestions,
		"decision.min_absence":              DefaultDecisionMinAbsence,
		"decision.daily_limit":              DefaultDecisionDailyLimit,
		"decision.urgency_threshold":        DefaultDecisionUrgencyThreshold,
		"decision.confidence_threshold":     DefaultDecisionConfidenceThreshold,
		"decision.human_phrases":            DefaultHumanPhrases,
		"style.max_messages":                DefaultStyleMaxMessages,
		"style.lookback":                    DefaultStyleLookback,
		"style.recent_window":               DefaultStyleRecentWindow,
		"style.min_messages":                DefaultStyleMinMessages,
		"cache.backend":                     DefaultCacheBackend,
		"cache.path":                        filepath.Join(home, ".autoreply", "cache.json"),
		"cache.redis.addr":                  DefaultRedisAddr,
		"cache.style_ttl":                   DefaultCacheStyleTTL,
		"cache.quick_style_ttl":             DefaultCacheQuickStyleTTL,
		"cache.daily_count_ttl":             DefaultCacheDailyCountTTL,
		"cache.last_response_ttl":           DefaultCacheLastResponseTTL,
		"cache.prune_schedule":              DefaultCachePruneSchedule,
		"orchestrator.workers":              DefaultOrchestratorWorkers,
		"orchestrator.analysis_timeout":     DefaultOrchestratorAnalysisTimeout,
		"orchestrator.generation_timeout":   DefaultOrchestratorGenerationTimeout,
		"orchestrator.decision_timeout":     DefaultOrchestratorDecisionTimeout,
		"orchestrator.suggestion_timeout":   DefaultOrchestratorSuggestionTimeout,
		"history.path":                      filepath.Join(home, ".autoreply", "history.db"),
		"notify.audit.enabled":              DefaultNotifyAuditEnabled,
		"notify.audit.path":                 filepath.Join(home, ".autoreply", "audit.log"),
		"notify.slack.enabled":              DefaultNotifySlackEnabled,
		"notify.telegram.enabled":           DefaultNotifyTelegramEnabled,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		userHome, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(userHome, ".autoreply", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("AUTOREPLY_", ".", envKeyResolver(defaults)), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectProviderKeys(&cfg)

	if cfg.Notify.Slack.BotToken == "" {
		cfg.Notify.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if cfg.Notify.Telegram.BotToken == "" {
		cfg.Notify.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}

	return &cfg, nil
}

// Validate reports settings that make the pipeline unusable. It is meant to run once at startup.
func (c *Config) Validate() error {
	if c == nil {
		return autoreplyErrors.Configuration("config is nil")
	}
	if strings.TrimSpace(c.Models.Default) == "" {
		return autoreplyErrors.Configuration("models.default is required")
	}
	if c.Decision.DailyLimit <= 0 {
		return autoreplyErrors.Configuration(fmt.Sprintf("decision.daily_limit must be positive, got %d", c.Decision.DailyLimit))
	}
	if !inUnitRange(c.Decision.UrgencyThreshold) {
		return autoreplyErrors.Configuration(fmt.Sprintf("decision.urgency_threshold must be within [0,1], got %v", c.Decision.UrgencyThreshold))
	}
	if !inUnitRange(c.Decision.ConfidenceThreshold) {
		return autoreplyErrors.Configuration(fmt.Sprintf("decision.confidence_threshold must be within [0,1], got %v", c.Decision.ConfidenceThreshold))
	}
	if c.Completion.MaxRetries < 0 {
		return autoreplyErrors.Configuration("completion.max_retries cannot be negative")
	}

	durations := map[string]string{
		"decision.min_absence":            c.Decision.MinAbsence,
		"completion.base_backoff":         c.Completion.BaseBackoff,
		"completion.max_backoff":          c.Completion.MaxBackoff,
		"completion.timeout":              c.Completion.Timeout,
		"style.lookback":                  c.Style.Lookback,
		"style.recent_window":             c.Style.RecentWindow,
		"cache.style_ttl":                 c.Cache.StyleTTL,
		"cache.quick_style_ttl":           c.Cache.QuickStyleTTL,
		"cache.daily_count_ttl":           c.Cache.DailyCountTTL,
		"cache.last_response_ttl":         c.Cache.LastResponseTTL,
		"orchestrator.analysis_timeout":   c.Orchestrator.AnalysisTimeout,
		"orchestrator.generation_timeout": c.Orchestrator.GenerationTimeout,
		"orchestrator.decision_timeout":   c.Orchestrator.DecisionTimeout,
		"orchestrator.suggestion_timeout": c.Orchestrator.SuggestionTimeout,
	}
	for key, value := range durations {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := DurationOrDefault(value, ""); err != nil {
			return autoreplyErrors.Configuration(fmt.Sprintf("%s: %v", key, err))
		}
	}

	completionTimeout, _ := DurationOrDefault(c.Completion.Timeout, DefaultCompletionTimeout)
	analysisTimeout, _ := DurationOrDefault(c.Orchestrator.AnalysisTimeout, DefaultOrchestratorAnalysisTimeout)
	if completionTimeout >= analysisTimeout {
		return autoreplyErrors.Configuration(fmt.Sprintf("completion.timeout (%s) must be shorter than orchestrator.analysis_timeout (%s)", completionTimeout, analysisTimeout))
	}

	switch c.Cache.Backend {
	case "", "memory", "file", "redis":
	default:
		return autoreplyErrors.Configuration(fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend))
	}

	if c.Notify.Slack.Enabled && (c.Notify.Slack.BotToken == "" || c.Notify.Slack.Channel == "") {
		return autoreplyErrors.Configuration("notify.slack requires bot_token and channel")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		return autoreplyErrors.Configuration("notify.telegram requires bot_token and chat_id")
	}

	return nil
}

// envKeyResolver maps AUTOREPLY_DECISION_DAILY_LIMIT to decision.daily_limit.
// Names that match no known key split on the first underscore only.
func envKeyResolver(known map[string]interface{}) func(string) string {
	byEnv := make(map[string]string, len(known))
	for key := range known {
		byEnv[strings.NewReplacer(".", "_").Replace(key)] = key
	}
	return func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, "AUTOREPLY_"))
		if key, ok := byEnv[name]; ok {
			return key
		}
		return strings.Replace(name, "_", ".", 1)
	}
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func injectProviderKeys(cfg *Config) {
	envKeys := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"zai":       "ZAI_API_KEY",
	}
	for provider, envName := range envKeys {
		key := os.Getenv(envName)
		if key == "" {
			continue
		}
		for i, m := range cfg.Models.Registry {
			if m.Provider == provider && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	for _, field := range []*string{&cfg.Cache.Path, &cfg.History.Path, &cfg.Notify.Audit.Path} {
		expanded, err := expandConfiguredPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
