package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xandylearning/zulip-sub000/internal/concurrency"
	"github.com/xandylearning/zulip-sub000/internal/errors"
)

const DefaultSinkTimeout = 5 * time.Second

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Notifier is what the pipeline talks to. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Dispatcher fans every event out to all registered sinks in the background.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   map[string]Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	return &Dispatcher{
		sinks:   make(map[string]Sink),
		timeout: timeout,
	}
}

func (d *Dispatcher) Register(sink Sink) error {
	if sink == nil {
		return errors.InvalidInput("sink cannot be nil")
	}
	name := sink.Name()
	if name == "" {
		return errors.InvalidInput("sink name cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sinks[name]; exists {
		return errors.InvalidInput("sink already registered: " + name)
	}
	d.sinks[name] = sink
	slog.Info("Notification sink registered", "name", name)
	return nil
}

func (d *Dispatcher) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.sinks[name]; !exists {
		return errors.NotFound("sink not found: " + name)
	}
	delete(d.sinks, name)
	slog.Info("Notification sink unregistered", "name", name)
	return nil
}

// SinkNames lists registered sinks in name order.
func (d *Dispatcher) SinkNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Notify delivers evt asynchronously. Failures are logged only.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	concurrency.SafeGo(func() {
		defer d.wg.Done()
		_ = d.Deliver(ctx, evt)
	}, func(p *concurrency.PanicError) {
		slog.Error("Event delivery panicked", "event_id", evt.ID, "type", evt.Type, "error", p)
	})
}

// Deliver sends evt to every sink and waits. It returns the first sink error.
func (d *Dispatcher) Deliver(ctx context.Context, evt Event) error {
	d.mu.RLock()
	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	d.mu.RUnlock()

	var g errgroup.Group
	for _, sink := range sinks {
		g.Go(func() error {
			sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := safeSend(sinkCtx, sink, evt); err != nil {
				slog.Warn("Failed to deliver event", "sink", sink.Name(), "event_id", evt.ID, "type", evt.Type, "error", err)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func safeSend(ctx context.Context, sink Sink, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Send(ctx, evt)
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
