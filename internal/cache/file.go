package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const fileLockRetry = 25 * time.Millisecond

type fileEntry struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // Unix nanoseconds, 0 = no expiry
}

type fileSnapshot struct {
	Entries map[string]fileEntry `json:"entries"`
}

// FileStore persists entries as a JSON snapshot so several CLI invocations share one cache.
// Writes hold an exclusive flock on <path>.lock, reload the snapshot and replace it atomically.
type FileStore struct {
	path    string
	lock    *flock.Flock
	writeMu sync.Mutex // serializes holders of lock; flock handles are not goroutine-exclusive
	state   fileSnapshot
	modTime time.Time
	mu      sync.RWMutex
	now     func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if err := config.EnsureParentDir(path); err != nil {
		return nil, err
	}
	s := &FileStore{
		path:  path,
		lock:  flock.New(path + ".lock"),
		state: fileSnapshot{Entries: make(map[string]fileEntry)},
		now:   time.Now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load cache snapshot %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state.Entries = make(map[string]fileEntry)
		return nil
	}
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.state.Entries = make(map[string]fileEntry)
		return nil
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Entries == nil {
		snap.Entries = make(map[string]fileEntry)
	}
	s.state = snap
	return nil
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// mutate applies fn to a freshly loaded snapshot under the process and file locks.
func (s *FileStore) mutate(ctx context.Context, fn func(entries map[string]fileEntry)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("lock cache file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache file: not acquired")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Failed to release cache file lock", "path", s.path, "error", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		slog.Warn("Cache snapshot unreadable, starting fresh", "path", s.path, "error", err)
		s.state.Entries = make(map[string]fileEntry)
	}
	fn(s.state.Entries)
	if err := s.save(); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

func (s *FileStore) expired(entry fileEntry, now time.Time) bool {
	return entry.ExpiresAt != 0 && now.UnixNano() >= entry.ExpiresAt
}

// refresh reloads the snapshot when another process replaced it.
func (s *FileStore) refresh() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.RLock()
	stale := !info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if !stale {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		slog.Warn("Cache snapshot reload failed", "path", s.path, "error", err)
	}
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool) {
	s.refresh()
	s.mu.RLock()
	entry, ok := s.state.Entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(entry, s.now()) {
		return nil, false
	}
	out := make([]byte, len(entry.Value))
	copy(out, entry.Value)
	return out, true
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry := fileEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl).UnixNano()
	}
	err := s.mutate(ctx, func(entries map[string]fileEntry) {
		entries[key] = entry
	})
	if err != nil {
		slog.Warn("Cache write failed", "key", key, "path", s.path, "error", err)
	}
}

func (s *FileStore) Invalidate(ctx context.Context, key string) {
	err := s.mutate(ctx, func(entries map[string]fileEntry) {
		delete(entries, key)
	})
	if err != nil {
		slog.Warn("Cache invalidate failed", "key", key, "path", s.path, "error", err)
	}
}

func (s *FileStore) Prune(ctx context.Context) int {
	count := 0
	err := s.mutate(ctx, func(entries map[string]fileEntry) {
		now := s.now()
		for k, entry := range entries {
			if s.expired(entry, now) {
				delete(entries, k)
				count++
			}
		}
	})
	if err != nil {
		slog.Warn("Cache prune failed", "path", s.path, "error", err)
		return 0
	}
	return count
}
