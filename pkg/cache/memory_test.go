package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(DefaultConfig())
	store.now = clock.Now
	return store, clock
}

func TestMemoryStore_GetSetEvict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemoryStore()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, store.Evict(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Second))

	clock.Advance(9 * time.Second)
	_, ok, _ := store.Get(ctx, "k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_ValueIsCopied(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemoryStore()

	buf := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	val, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(val))
}

func TestMemoryStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestMemoryStore()

	_, _, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, store.Set(ctx, "", nil, 0), ErrInvalidKey)
	assert.ErrorIs(t, store.Evict(ctx, ""), ErrInvalidKey)
	_, _, err = store.Incr(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStore_IncrFixedWindow(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore()

	for i := int64(1); i <= 3; i++ {
		count, resetIn, err := store.Incr(ctx, "ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Equal(t, time.Minute, resetIn)
	}

	// Later increments do not extend the window
	clock.Advance(30 * time.Second)
	count, resetIn, err := store.Incr(ctx, "ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, 30*time.Second, resetIn)

	// Other keys are independent
	count, _, _ = store.Incr(ctx, "ip:5.6.7.8", time.Minute)
	assert.Equal(t, int64(1), count)

	clock.Advance(30 * time.Second)
	count, resetIn, _ = store.Incr(ctx, "ip:1.2.3.4", time.Minute)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, resetIn)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestMemoryStore()

	_, _, _ = store.Incr(ctx, "a", time.Second)
	_, _, _ = store.Incr(ctx, "b", time.Minute)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 0, store.Cleanup())
}

func TestMemoryStore_IncrSweepsAtBound(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	store := NewMemoryStore(cfg)
	store.now = clock.Now

	_, _, _ = store.Incr(ctx, "a", time.Second)
	_, _, _ = store.Incr(ctx, "b", time.Second)
	clock.Advance(2 * time.Second)

	_, _, _ = store.Incr(ctx, "c", time.Minute)
	store.mu.Lock()
	assert.Len(t, store.windows, 1)
	store.mu.Unlock()
}

func TestMemoryStore_IncrCapsLiveWindows(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	store := NewMemoryStore(cfg)
	store.now = clock.Now

	_, _, _ = store.Incr(ctx, "early", time.Minute)
	clock.Advance(time.Second)
	for i := 0; i < 20; i++ {
		_, _, err := store.Incr(ctx, fmt.Sprintf("ip:10.9.0.%d", i), time.Minute)
		require.NoError(t, err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.windows, 3)
	assert.NotContains(t, store.windows, "early")
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = store.Incr(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	count, _, err := store.Incr(ctx, "shared", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), count)
}
