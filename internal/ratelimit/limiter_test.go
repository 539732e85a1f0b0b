package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_AdmitsUpToMax(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{WindowSeconds: 60, MaxRequests: 3}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		admitted, remaining, resetIn := l.Allow("alice")
		require.True(t, admitted, "request %d should be admitted", i+1)
		assert.Equal(t, 2-i, remaining)
		assert.Equal(t, 60, resetIn)
	}

	admitted, remaining, resetIn := l.Allow("alice")
	assert.False(t, admitted, "4th request inside the window must be rejected")
	assert.Equal(t, 0, remaining)
	assert.LessOrEqual(t, resetIn, 60)
	assert.GreaterOrEqual(t, resetIn, 0)
}

func TestLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{WindowSeconds: 60, MaxRequests: 2}, WithClock(clock.Now))

	admitted, _, _ := l.Allow("bob")
	require.True(t, admitted)
	admitted, _, _ = l.Allow("bob")
	require.True(t, admitted)
	admitted, _, _ = l.Allow("bob")
	require.False(t, admitted)

	clock.Advance(61 * time.Second)

	admitted, remaining, _ := l.Allow("bob")
	assert.True(t, admitted, "after the window passes the key is admitted again")
	assert.Equal(t, 1, remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{WindowSeconds: 60, MaxRequests: 1}, WithClock(clock.Now))

	admitted, _, _ := l.Allow("alice")
	require.True(t, admitted)
	admitted, _, _ = l.Allow("alice")
	require.False(t, admitted)

	admitted, _, _ = l.Allow("carol")
	assert.True(t, admitted, "a different key has its own window")
}

func TestLimiter_RejectedCallDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{WindowSeconds: 30, MaxRequests: 2}, WithClock(clock.Now))

	l.Allow("dave")
	clock.Advance(10 * time.Second)
	l.Allow("dave")

	// Rejected attempts must not extend the key's window.
	for i := 0; i < 5; i++ {
		admitted, _, _ := l.Allow("dave")
		require.False(t, admitted)
	}

	clock.Advance(21 * time.Second) // first entry is now outside the window
	admitted, _, _ := l.Allow("dave")
	assert.True(t, admitted)
}

func TestLimiter_ResetInReportsOldestEntry(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{WindowSeconds: 60, MaxRequests: 1}, WithClock(clock.Now))

	l.Allow("erin")
	clock.Advance(40 * time.Second)

	admitted, _, resetIn := l.Allow("erin")
	require.False(t, admitted)
	assert.Equal(t, 20, resetIn, "oldest entry exits the window in 20s")
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, time.Duration(DefaultWindowSeconds)*time.Second, l.window)
	assert.Equal(t, DefaultMaxRequests, l.max)
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := New(Config{WindowSeconds: 60, MaxRequests: 50})

	var wg sync.WaitGroup
	admitted := make([]int32, 4)
	keys := []string{"k0", "k1", "k2", "k3"}

	var mu sync.Mutex
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := keys[w%len(keys)]
			for i := 0; i < 25; i++ {
				ok, _, _ := l.Allow(key)
				if ok {
					mu.Lock()
					admitted[w%len(keys)]++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	// Two workers share each key, 50 attempts total against a cap of 50.
	for i, n := range admitted {
		assert.Equal(t, int32(50), n, "key %s", keys[i])
	}
}
