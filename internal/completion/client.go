package completion

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"
	"github.com/xandylearning/zulip-sub000/internal/logger"
	"github.com/xandylearning/zulip-sub000/internal/model"
	"github.com/xandylearning/zulip-sub000/internal/model/contract"
)

// Request is a single prompt sent to the completion service.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// Timeout bounds each attempt. Zero uses the client default.
	Timeout time.Duration
	JSON    bool
}

// Result is the text produced for a Request. An empty Text is a valid result.
type Result struct {
	Text  string
	Model string
	Usage contract.Usage
}

// Completer is what the analysis stages depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

type Options struct {
	Model       string
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

// OptionsFromConfig resolves client options from the completion and model sections.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	base, err := config.DurationOrDefault(cfg.Completion.BaseBackoff, config.DefaultCompletionBaseBackoff)
	if err != nil {
		return Options{}, autoreplyErrors.Configuration(fmt.Sprintf("completion.base_backoff: %v", err))
	}
	maxBackoff, err := config.DurationOrDefault(cfg.Completion.MaxBackoff, config.DefaultCompletionMaxBackoff)
	if err != nil {
		return Options{}, autoreplyErrors.Configuration(fmt.Sprintf("completion.max_backoff: %v", err))
	}
	timeout, err := config.DurationOrDefault(cfg.Completion.Timeout, config.DefaultCompletionTimeout)
	if err != nil {
		return Options{}, autoreplyErrors.Configuration(fmt.Sprintf("completion.timeout: %v", err))
	}
	return Options{
		Model:       cfg.Models.Default,
		MaxRetries:  cfg.Completion.MaxRetries,
		BaseBackoff: base,
		MaxBackoff:  maxBackoff,
		Timeout:     timeout,
	}, nil
}

// Client calls the model router with bounded retries, exponential backoff and jitter.
type Client struct {
	router model.ModelRouter
	mapper autoreplyErrors.ErrorMapper
	opts   Options

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewClient(router model.ModelRouter, opts Options) *Client {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = config.MustDuration(config.DefaultCompletionBaseBackoff)
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.MustDuration(config.DefaultCompletionTimeout)
	}
	return &Client{
		router: router,
		mapper: autoreplyErrors.NewDefaultErrorMapper(),
		opts:   opts,
		sleep:  sleepWithContext,
		jitter: fullJitter,
	}
}

// Complete sends req, retrying transient failures up to MaxRetries more times.
// Every failure is returned as *Error.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	log := logger.From(ctx)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	creq := contract.CompletionRequest{
		Model:       c.opts.Model,
		System:      req.System,
		Messages:    []contract.Message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		JSONMode:    req.JSON,
	}

	maxAttempts := c.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, newError(KindPermanent, attempt-1, err)
		}

		resp, err := c.attempt(ctx, timeout, creq)
		if err == nil {
			return Result{
				Text:  strings.TrimSpace(resp.Content),
				Model: resp.Model,
				Usage: resp.Usage,
			}, nil
		}

		// The attempt's own deadline is transient; the caller's is not.
		if ctx.Err() != nil {
			return Result{}, newError(KindPermanent, attempt, err)
		}

		lastErr = err
		if !c.mapper.IsRetryable(c.mapper.MapError(err)) {
			log.Warn("Completion failed permanently", "attempt", attempt, "error", err)
			return Result{}, newError(KindPermanent, attempt, err)
		}

		if attempt == maxAttempts {
			break
		}

		wait := c.jitter(backoffDuration(c.opts.BaseBackoff, c.opts.MaxBackoff, attempt))
		log.Warn("Completion failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if err := c.sleep(ctx, wait); err != nil {
			return Result{}, newError(KindPermanent, attempt, err)
		}
	}

	return Result{}, newError(KindTransient, maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, timeout time.Duration, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.router.Route(attemptCtx, req.Model, req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, autoreplyErrors.Transient(fmt.Sprintf("completion attempt timed out after %s", timeout))
		}
		return nil, err
	}
	if resp == nil {
		return &contract.CompletionResponse{}, nil
	}
	return resp, nil
}

// backoffDuration doubles base for each prior attempt, capped at max.
func backoffDuration(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := base * time.Duration(1<<uint(attempt-1))
	if wait > max || wait <= 0 {
		return max
	}
	return wait
}

// fullJitter picks a wait in [d/2, d].
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
