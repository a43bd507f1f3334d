package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/agent"
	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/completion"
	"github.com/xandylearning/zulip-sub000/internal/concurrency"
	"github.com/xandylearning/zulip-sub000/internal/config"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/model"
	"github.com/xandylearning/zulip-sub000/internal/notify"
	"github.com/xandylearning/zulip-sub000/internal/orchestrator"
	"github.com/xandylearning/zulip-sub000/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

// RuntimeComponents is the fully wired auto-response runtime.
type RuntimeComponents struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config *config.Config

	Router      model.ModelRouter
	Completer   *completion.Client
	Cache       cache.Store
	History     *history.SQLiteStore
	Activity    *agent.ActivityTracker
	Dispatcher  *notify.Dispatcher
	Pool        *concurrency.Pool
	Pipeline    *orchestrator.Pipeline
	Maintenance *scheduler.Maintenance

	stopOnce sync.Once
}

func NewRuntimeComponents(ctx context.Context, cfg *config.Config, router model.ModelRouter) (*RuntimeComponents, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	components := &RuntimeComponents{
		Ctx:    ctx,
		Cancel: cancel,
		Config: cfg,
	}

	if router == nil {
		built, err := model.NewModelRouter(cfg.Models)
		if err != nil {
			slog.Warn("No model providers available, running on heuristics only", "error", err)
			router = model.NewModelRouterWithProviders(cfg.Models, nil)
		} else {
			router = built
		}
	}
	components.Router = router

	opts, err := completion.OptionsFromConfig(cfg)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init completion client: %w", err)
	}
	components.Completer = completion.NewClient(router, opts)

	store, err := cache.New(cfg.Cache)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init cache: %w", err)
	}
	components.Cache = store

	ttls, err := cache.TTLsFromConfig(cfg.Cache)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init cache ttls: %w", err)
	}

	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init history: %w", err)
	}
	components.History = hist
	components.Activity = agent.NewActivityTracker(store, hist, hist, ttls)

	dispatcher, err := notify.FromConfig(cfg.Notify, slog.Default())
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init notifiers: %w", err)
	}
	components.Dispatcher = dispatcher

	stages, err := buildStages(cfg, store, ttls, hist, components.Completer, components.Activity)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init stages: %w", err)
	}

	timeouts, err := orchestrator.TimeoutsFromConfig(cfg.Orchestrator)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	components.Pool = concurrency.NewPool(cfg.Orchestrator.Workers)
	components.Pipeline = orchestrator.NewPipeline(stages, components.Pool, timeouts, dispatcher)

	maintenance, err := scheduler.NewMaintenance(cfg.Cache)
	if err != nil {
		components.cleanup()
		return nil, fmt.Errorf("init cache maintenance: %w", err)
	}
	if _, err := maintenance.Register("cache", store); err != nil {
		components.cleanup()
		return nil, fmt.Errorf("register cache maintenance: %w", err)
	}
	components.Maintenance = maintenance

	slog.Debug("Runtime components initialized", "cache", cfg.Cache.Backend, "sinks", dispatcher.SinkNames())
	return components, nil
}

func buildStages(cfg *config.Config, store cache.Store, ttls cache.TTLs, hist *history.SQLiteStore, completer completion.Completer, activity *agent.ActivityTracker) (orchestrator.Stages, error) {
	lookback, err := config.DurationOrDefault(cfg.Style.Lookback, config.DefaultStyleLookback)
	if err != nil {
		return orchestrator.Stages{}, fmt.Errorf("parse style lookback: %w", err)
	}
	recent, err := config.DurationOrDefault(cfg.Style.RecentWindow, config.DefaultStyleRecentWindow)
	if err != nil {
		return orchestrator.Stages{}, fmt.Errorf("parse style recent window: %w", err)
	}
	policy, err := agent.DecisionPolicyFromConfig(cfg.Decision)
	if err != nil {
		return orchestrator.Stages{}, err
	}

	temperature := cfg.Completion.Temperature
	tokens := cfg.Completion.MaxTokens

	return orchestrator.Stages{
		Style: agent.NewStyleAnalyzer(store, hist, completer, agent.StyleOptions{
			MaxMessages:  cfg.Style.MaxMessages,
			Lookback:     lookback,
			RecentWindow: recent,
			MinMessages:  cfg.Style.MinMessages,
			MaxTokens:    tokens.Style,
			Temperature:  temperature,
			TTLs:         ttls,
		}),
		Context: agent.NewContextAnalyzer(hist, completer, agent.ContextOptions{
			MaxTokens:   tokens.Context,
			Temperature: temperature,
		}),
		Response: agent.NewResponseGenerator(completer, agent.ResponseOptions{
			MaxTokens:   tokens.Response,
			Temperature: temperature,
		}),
		Suggestion: agent.NewSuggestionGenerator(completer, agent.SuggestionOptions{
			MaxTokens:   tokens.Suggestions,
			Temperature: temperature,
		}),
		Decision: agent.NewDecisionMaker(policy, activity),
		Recorder: activity,
	}, nil
}

func (r *RuntimeComponents) Start() error {
	if r.Maintenance == nil {
		return fmt.Errorf("cache maintenance not initialized")
	}
	if err := r.Maintenance.Start(r.Ctx); err != nil {
		return fmt.Errorf("start cache maintenance: %w", err)
	}
	return nil
}

// Evaluate runs the pipeline for one incoming message.
func (r *RuntimeComponents) Evaluate(ctx context.Context, req orchestrator.Request) orchestrator.Outcome {
	return r.Pipeline.Run(ctx, req)
}

// AddMessage stores a chat message and refreshes the sender's activity signal.
func (r *RuntimeComponents) AddMessage(ctx context.Context, msg history.Message) (history.Message, error) {
	stored, err := r.History.AddMessage(ctx, msg)
	if err != nil {
		return history.Message{}, err
	}
	r.Activity.MarkActive(ctx, stored.SenderID, stored.SentAt)
	return stored, nil
}

// PruneCache drops expired cache entries now.
func (r *RuntimeComponents) PruneCache(ctx context.Context) int {
	if r.Maintenance == nil {
		return 0
	}
	return r.Maintenance.RunNow(ctx)
}

func (r *RuntimeComponents) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *RuntimeComponents) stop() {
	slog.Debug("Stopping runtime components")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.Maintenance != nil {
		if err := r.Maintenance.Stop(ctx); err != nil {
			slog.Warn("Failed to stop cache maintenance", "error", err)
		}
	}

	if r.Dispatcher != nil {
		if err := r.Dispatcher.Wait(ctx); err != nil {
			slog.Warn("Pending notifications not delivered", "error", err)
		}
	}

	r.Cancel()

	if closer, ok := r.Cache.(cache.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("Failed to close cache", "error", err)
		}
	}

	if r.History != nil {
		if err := r.History.Close(); err != nil {
			slog.Warn("Failed to close history", "error", err)
		}
	}
}

func (r *RuntimeComponents) cleanup() {
	slog.Debug("Cleaning up runtime components")
	r.Stop()
}
