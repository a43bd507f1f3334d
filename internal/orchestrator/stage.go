package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/agent"
	"github.com/xandylearning/zulip-sub000/internal/concurrency"
)

// stageResult carries one stage's output back to the run goroutine. err is set
// when the stage failed, timed out or panicked; value is then meaningless.
type stageResult[T any] struct {
	value T
	errs  []agent.StageError
	err   error
}

var errStageTimeout = errors.New("stage timed out")

const maxStageReserve = 500 * time.Millisecond

// workBudget is the part of a stage timeout handed to the stage itself. The
// remainder lets a stage whose model call ran out of time take its own fallback
// before the run stops waiting for it.
func workBudget(timeout time.Duration) time.Duration {
	reserve := min(timeout/5, maxStageReserve)
	return timeout - reserve
}

// startStage runs fn on the shared pool under its own timeout. fn sees a
// deadline shortened by workBudget. The returned channel always yields exactly
// one result no later than the timeout; fn may keep running in the background
// after that.
func startStage[T any](ctx context.Context, pool *concurrency.Pool, timeout time.Duration, fn func(ctx context.Context) (T, []agent.StageError, error)) <-chan stageResult[T] {
	out := make(chan stageResult[T], 1)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	workDeadline := time.Now().Add(workBudget(timeout))

	done := make(chan stageResult[T], 1)
	concurrency.SafeGo(func() {
		var res stageResult[T]
		err := pool.Do(stageCtx, func(ctx context.Context) error {
			workCtx, cancelWork := context.WithDeadline(ctx, workDeadline)
			defer cancelWork()
			var err error
			res.value, res.errs, err = fn(workCtx)
			return err
		})
		res.err = err
		done <- res
	}, func(p *concurrency.PanicError) {
		done <- stageResult[T]{err: p}
	})

	go func() {
		defer cancel()
		select {
		case res := <-done:
			out <- res
		case <-stageCtx.Done():
			if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
				out <- stageResult[T]{err: fmt.Errorf("%w after %s", errStageTimeout, timeout)}
				return
			}
			out <- stageResult[T]{err: stageCtx.Err()}
		}
	}()
	return out
}
