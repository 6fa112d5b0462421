// Package dedupe detects platform redeliveries of events that were already
// accepted. Slack resends an event when it does not see an ack in time, so the
// gateway claims each envelope id before doing any work.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL covers Slack's redelivery schedule with room to spare.
const DefaultTTL = 10 * time.Minute

// Store claims event keys. Seen returns true when key was already claimed
// within the store's TTL; otherwise it claims key and returns false.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// MemoryConfig configures a Memory store.
type MemoryConfig struct {
	// TTL is how long a claimed key blocks redeliveries. Default: DefaultTTL.
	TTL time.Duration

	// MaxSize bounds the number of tracked keys. 0 = unlimited.
	MaxSize int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Memory is a process-local Store with TTL expiry and oldest-first eviction.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewMemory creates an in-memory store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		entries: make(map[string]time.Time),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
	}
}

// Seen is an atomic check-and-claim.
func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return true, nil
	}

	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		if _, exists := m.entries[key]; !exists {
			m.evictOldest()
		}
	}
	m.entries[key] = now.Add(m.ttl)
	return false, nil
}

// Forget releases key so a later delivery is processed again.
func (m *Memory) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of tracked keys, including expired ones not yet
// cleaned up.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup removes expired keys and returns how many were removed.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Run cleans up expired keys every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// evictOldest must be called with the lock held.
func (m *Memory) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, expires := range m.entries {
		if first || expires.Before(oldest) {
			oldestKey, oldest, first = key, expires, false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}
