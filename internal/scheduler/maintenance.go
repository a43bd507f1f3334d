package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"

	"github.com/robfig/cron/v3"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) error
}

// Maintenance prunes expired entries from lazily expiring cache backends
// on a cron schedule.
type Maintenance struct {
	schedule string

	mu         sync.RWMutex
	cron       *cron.Cron
	running    bool
	targets    map[string]cache.Pruner
	lastRun    time.Time
	lastPruned int
	runs       int
}

// NewMaintenance validates cfg.PruneSchedule, falling back to the default
// schedule when it is empty.
func NewMaintenance(cfg config.CacheConfig) (*Maintenance, error) {
	schedule := strings.TrimSpace(cfg.PruneSchedule)
	if schedule == "" {
		schedule = config.DefaultCachePruneSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, autoreplyErrors.Configuration(fmt.Sprintf("invalid cache.prune_schedule %q: %v", schedule, err))
	}

	return &Maintenance{
		schedule: schedule,
		targets:  make(map[string]cache.Pruner),
	}, nil
}

func (m *Maintenance) Schedule() string {
	return m.schedule
}

// Register adds a backend to prune. Stores that are not Pruners are ignored
// and reported as false.
func (m *Maintenance) Register(name string, store cache.Store) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, autoreplyErrors.InvalidInput("maintenance target name is required")
	}
	pruner, ok := store.(cache.Pruner)
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.targets[name]; exists {
		return false, autoreplyErrors.InvalidInput(fmt.Sprintf("maintenance target %q already registered", name))
	}
	m.targets[name] = pruner
	return true, nil
}

func (m *Maintenance) Targets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.targets))
	for name := range m.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{}),
		cron.SkipIfStillRunning(cronLogger{}),
	))
	if _, err := c.AddFunc(m.schedule, func() { m.RunNow(context.Background()) }); err != nil {
		return autoreplyErrors.Configuration(fmt.Sprintf("schedule cache maintenance: %v", err))
	}
	c.Start()

	m.cron = c
	m.running = true
	slog.Info("Cache maintenance started", "schedule", m.schedule, "targets", len(m.targets))
	return nil
}

// Stop halts the schedule and waits for a running prune to finish or ctx
// to expire.
func (m *Maintenance) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	select {
	case <-c.Stop().Done():
		slog.Info("Cache maintenance stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("Cache maintenance shutdown timed out")
		return ctx.Err()
	}
}

func (m *Maintenance) Health(ctx context.Context) error {
	if !m.IsRunning() {
		return autoreplyErrors.Internal("cache maintenance not running")
	}
	return nil
}

func (m *Maintenance) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// RunNow prunes every registered target once and returns the number of
// entries removed.
func (m *Maintenance) RunNow(ctx context.Context) int {
	m.mu.RLock()
	names := make([]string, 0, len(m.targets))
	for name := range m.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	pruners := make([]cache.Pruner, len(names))
	for i, name := range names {
		pruners[i] = m.targets[name]
	}
	m.mu.RUnlock()

	total := 0
	for i, p := range pruners {
		if ctx.Err() != nil {
			break
		}
		n := p.Prune(ctx)
		if n > 0 {
			slog.Debug("Pruned cache entries", "target", names[i], "count", n)
		}
		total += n
	}

	m.mu.Lock()
	m.lastRun = time.Now()
	m.lastPruned = total
	m.runs++
	m.mu.Unlock()
	return total
}

// Stats reports the last run time, how many entries it removed, and the
// number of runs so far.
func (m *Maintenance) Stats() (lastRun time.Time, lastPruned int, runs int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun, m.lastPruned, m.runs
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
