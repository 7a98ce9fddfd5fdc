package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store and Counter backed by an expirable LRU.
// Entries are bounded in number; the least recently used entry is evicted first.
type MemoryStore struct {
	entries *lru.LRU[string, memoryEntry]
	now     func() time.Time

	mu         sync.Mutex
	windows    map[string]*window
	maxWindows int
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore creates an in-memory store
func NewMemoryStore(config Config) *MemoryStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = DefaultConfig().MaxTTL
	}

	return &MemoryStore{
		entries: lru.NewLRU[string, memoryEntry](config.MaxEntries, nil, config.MaxTTL),
		now:        time.Now,
		windows:    make(map[string]*window),
		maxWindows: config.MaxEntries,
	}
}

// Get returns the value for key if present and not expired
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}

	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.entries.Remove(key)
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores value under key for ttl. A zero ttl means "until evicted".
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries.Add(key, e)
	return nil
}

// Evict removes key
func (m *MemoryStore) Evict(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.entries.Remove(key)
	return nil
}

// Incr implements Counter
func (m *MemoryStore) Incr(ctx context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, ErrInvalidKey
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if !ok && len(m.windows) >= m.maxWindows {
			if m.sweepLocked(now) == 0 {
				m.evictSoonestLocked()
			}
		}
		w = &window{resetAt: now.Add(win)}
		m.windows[key] = w
	}
	w.count++

	return w.count, w.resetAt.Sub(now), nil
}

// Cleanup drops counter windows that have elapsed. Incr also sweeps once the
// number of windows reaches the entry bound, and drops the window closest to
// its reset when none has elapsed.
func (m *MemoryStore) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) evictSoonestLocked() {
	var (
		victim  string
		soonest time.Time
	)
	for key, w := range m.windows {
		if victim == "" || w.resetAt.Before(soonest) {
			victim, soonest = key, w.resetAt
		}
	}
	delete(m.windows, victim)
}

// Len returns the number of stored entries (not counters)
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}
