package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a bounded in-process Backend. When full, Set evicts
// expired entries first, then the entry closest to expiry.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int

	sweepEvery time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// NewMemoryCache creates a cache holding at most maxEntries values and
// sweeping expired ones every sweepEvery
func NewMemoryCache(maxEntries int, sweepEvery time.Duration) *MemoryCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	mc := &MemoryCache{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		sweepEvery: sweepEvery,
		stop:       make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return nil
	}
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictLocked(time.Now())
	}
	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds; the memory cache has no connection to lose
func (m *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

// Len counts stored entries, including expired ones not yet swept
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictLocked makes room for one entry
func (m *MemoryCache) evictLocked(now time.Time) {
	if m.sweepLocked(now) > 0 {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(m.entries, victim)
}

func (m *MemoryCache) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *MemoryCache) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(time.Now())
}

func (m *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}
