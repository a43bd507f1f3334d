package concurrency

import "sync"

// KeyedLocker serializes work per key, e.g. per responder when bumping the daily counter.
type KeyedLocker struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *KeyedLocker) Lock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *KeyedLocker) Unlock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	m.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}

// WithLock runs fn while holding the lock for key.
func (m *KeyedLocker) WithLock(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}
