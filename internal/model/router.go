package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"
	"github.com/xandylearning/zulip-sub000/internal/logger"
	"github.com/xandylearning/zulip-sub000/internal/model/contract"
	anthropicProvider "github.com/xandylearning/zulip-sub000/internal/model/providers/anthropic"
	geminiProvider "github.com/xandylearning/zulip-sub000/internal/model/providers/gemini"
	openaiProvider "github.com/xandylearning/zulip-sub000/internal/model/providers/openai"
	zaiProvider "github.com/xandylearning/zulip-sub000/internal/model/providers/zai"
)

// DefaultModelRouter implements ModelRouter interface
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewModelRouter creates a new model router
func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	router := &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// NewModelRouterWithProviders builds a router around already constructed providers.
func NewModelRouterWithProviders(cfg config.ModelsConfig, providers map[string]Provider) *DefaultModelRouter {
	router := &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider, len(providers)),
	}
	for name, p := range providers {
		router.providers[name] = p
	}
	return router
}

// Route routes a completion request to the appropriate provider
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	log := logger.From(ctx)
	if model == "" {
		model = r.cfg.Default
	}

	log.Debug("Routing completion request", "model", model)

	currentModel, provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.executeWithFallback(ctx, currentModel, provider, req)
}

// ListModels returns all registered model names
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

// Health checks the health of the router and its providers
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return autoreplyErrors.Configuration("no model providers available")
	}

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return autoreplyErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

// initProviders initializes all providers from configuration
func (r *DefaultModelRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Debug("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return autoreplyErrors.Configuration("no providers initialized; set an API key for at least one registry entry")
	}

	return nil
}

// resolveProvider resolves a provider by model name with fallback
func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (string, Provider, error) {
	select {
	case <-ctx.Done():
		return "", nil, autoreplyErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, exists := r.providers[model]; exists {
		return model, provider, nil
	}

	slog.Warn("Model not found", "model", model)

	if r.cfg.Fallback != "" && model != r.cfg.Fallback {
		if fallbackProvider, ok := r.providers[r.cfg.Fallback]; ok {
			slog.Info("Using fallback model", "model", model, "fallback", r.cfg.Fallback)
			return r.cfg.Fallback, fallbackProvider, nil
		}
	}

	return "", nil, autoreplyErrors.Permanent(fmt.Sprintf("model %s not found", model))
}

// executeWithFallback executes a request, switching to the fallback model once the primary fails.
func (r *DefaultModelRouter) executeWithFallback(ctx context.Context, model string, provider Provider, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	log := logger.From(ctx)

	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}

	currentModel := model
	currentProvider := provider
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, autoreplyErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		attemptReq := req
		attemptReq.Model = currentModel

		resp, err := currentProvider.Generate(ctx, attemptReq)
		if err == nil {
			log.Debug("Request completed", "model", currentModel, "attempt", attempt+1)
			return resp, nil
		}
		lastErr = err

		log.Warn("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			break
		}

		r.mu.RLock()
		fallbackProvider, exists := r.providers[r.cfg.Fallback]
		r.mu.RUnlock()
		if !exists {
			break
		}

		log.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)
		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, autoreplyErrors.Wrap(lastErr, "provider request failed")
}

// createProvider creates a provider instance based on registry entry
func (r *DefaultModelRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, autoreplyErrors.InvalidInput("API key required for OpenAI provider")
		}

		return NewProviderAdapter(entry.Name, "openai", openaiProvider.New(entry.APIKey, baseURL, entry.Name)), nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}

		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}

		return NewProviderAdapter(entry.Name, "ollama", openaiProvider.New(apiKey, baseURL, entry.Name)), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, autoreplyErrors.InvalidInput("API key required for Anthropic provider")
		}

		return NewProviderAdapter(entry.Name, "anthropic", anthropicProvider.New(entry.APIKey, entry.BaseURL)), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, autoreplyErrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, autoreplyErrors.Wrap(err, "failed to create Gemini provider")
		}

		return NewProviderAdapter(entry.Name, "gemini", provider), nil

	case "zai":
		if entry.APIKey == "" {
			return nil, autoreplyErrors.InvalidInput("API key required for Zai provider")
		}

		provider, err := zaiProvider.New(entry.APIKey, entry.BaseURL, entry.Name)
		if err != nil {
			return nil, autoreplyErrors.Wrap(err, "failed to create Zai provider")
		}

		return NewProviderAdapter(entry.Name, "zai", provider), nil

	default:
		return nil, autoreplyErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
