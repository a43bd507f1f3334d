package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"
)

type countingPruner struct {
	cache.Store
	removed int
	calls   atomic.Int32
}

func (p *countingPruner) Prune(ctx context.Context) int {
	p.calls.Add(1)
	return p.removed
}

type plainStore struct {
	cache.Store
}

func TestMaintenance_DefaultSchedule(t *testing.T) {
	m, err := NewMaintenance(config.CacheConfig{})
	if err != nil {
		t.Fatalf("NewMaintenance failed: %v", err)
	}
	if m.Schedule() != config.DefaultCachePruneSchedule {
		t.Fatalf("schedule = %q, want %q", m.Schedule(), config.DefaultCachePruneSchedule)
	}
}

func TestMaintenance_RejectsInvalidSchedule(t *testing.T) {
	_, err := NewMaintenance(config.CacheConfig{PruneSchedule: "every now and then"})
	if err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
	if !errors.Is(err, autoreplyErrors.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestMaintenance_Register(t *testing.T) {
	m, err := NewMaintenance(config.CacheConfig{})
	if err != nil {
		t.Fatalf("NewMaintenance failed: %v", err)
	}

	ok, err := m.Register("memory", cache.NewMemoryStore())
	if err != nil || !ok {
		t.Fatalf("expected memory store to register, ok=%v err=%v", ok, err)
	}

	ok, err = m.Register("remote", plainStore{})
	if err != nil {
		t.Fatalf("unexpected error for non-pruner: %v", err)
	}
	if ok {
		t.Fatal("store without Prune should not be registered")
	}

	if _, err := m.Register("memory", cache.NewMemoryStore()); !errors.Is(err, autoreplyErrors.ErrInvalidInput) {
		t.Fatalf("expected duplicate to fail with ErrInvalidInput, got %v", err)
	}
	if _, err := m.Register(" ", cache.NewMemoryStore()); !errors.Is(err, autoreplyErrors.ErrInvalidInput) {
		t.Fatalf("expected blank name to fail with ErrInvalidInput, got %v", err)
	}

	if got := m.Targets(); len(got) != 1 || got[0] != "memory" {
		t.Fatalf("targets = %v, want [memory]", got)
	}
}

func TestMaintenance_RunNowSumsTargets(t *testing.T) {
	m, err := NewMaintenance(config.CacheConfig{})
	if err != nil {
		t.Fatalf("NewMaintenance failed: %v", err)
	}

	a := &countingPruner{removed: 2}
	b := &countingPruner{removed: 3}
	if _, err := m.Register("a", a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := m.Register("b", b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if got := m.RunNow(context.Background()); got != 5 {
		t.Fatalf("RunNow = %d, want 5", got)
	}

	lastRun, lastPruned, runs := m.Stats()
	if lastRun.IsZero() {
		t.Error("last run should be recorded")
	}
	if lastPruned != 5 || runs != 1 {
		t.Errorf("stats = (%d, %d), want (5, 1)", lastPruned, runs)
	}
}

func TestMaintenance_RunNowStopsOnCancelledContext(t *testing.T) {
	m, err := NewMaintenance(config.CacheConfig{})
	if err != nil {
		t.Fatalf("NewMaintenance failed: %v", err)
	}
	p := &countingPruner{removed: 1}
	if _, err := m.Register("a", p); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := m.RunNow(ctx); got != 0 {
		t.Fatalf("RunNow = %d, want 0", got)
	}
	if p.calls.Load() != 0 {
		t.Fatal("pruner should not run after cancellation")
	}
}

func TestMaintenance_ComponentLifecycle(t *testing.T) {
	m, err := NewMaintenance(config.CacheConfig{PruneSchedule: "@every 1s"})
	if err != nil {
		t.Fatalf("NewMaintenance failed: %v", err)
	}
	p := &countingPruner{removed: 1}
	if _, err := m.Register("a", p); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := m.Health(ctx); err == nil {
		t.Error("Health should fail before Start")
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}
	if !m.IsRunning() {
		t.Error("maintenance should be running after Start")
	}
	if err := m.Health(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for p.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if p.calls.Load() == 0 {
		t.Fatal("expected scheduled prune to run")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if m.IsRunning() {
		t.Error("maintenance should not be running after Stop")
	}
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop should be a no-op: %v", err)
	}
}
