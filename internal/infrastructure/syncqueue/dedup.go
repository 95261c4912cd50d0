// Package syncqueue implements the client-side synchronization primitives
// of the write path: a cooldown cache that absorbs near-duplicate
// submissions, and a FIFO queue that forces a total order on outbound
// writes. Both are explicit service objects constructed at application
// start and injected into consumers, so tests can run independent
// instances with a fake clock.
package syncqueue

import (
	"sync"
	"time"
)

// Clock returns the current time. Production uses time.Now; tests inject
// a controllable one.
type Clock func() time.Time

// DefaultCooldown is the suppression window for duplicate submissions.
// Long enough to absorb double taps and re-entrant screen effects, short
// enough that a genuine redo after a failure is not swallowed.
const DefaultCooldown = 5 * time.Second

// CooldownCache remembers when each submission key was last seen and
// suppresses keys seen again within the cooldown window. Entries older
// than the window are evicted opportunistically on each call; there is no
// background timer. Lifecycle is the process lifetime.
type CooldownCache struct {
	mu       sync.Mutex
	window   time.Duration
	now      Clock
	lastSeen map[string]time.Time
}

// NewCooldownCache creates a cache with the given window. A zero window
// defaults to DefaultCooldown; a nil clock defaults to time.Now.
func NewCooldownCache(window time.Duration, now Clock) *CooldownCache {
	if window <= 0 {
		window = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &CooldownCache{
		window:   window,
		now:      now,
		lastSeen: make(map[string]time.Time),
	}
}

// ShouldSuppress reports whether key was last seen within the cooldown
// window. The key's last-seen time is advanced on every call regardless of
// the outcome, so a burst of rapid duplicates keeps suppressing until the
// burst stops.
func (c *CooldownCache) ShouldSuppress(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictLocked(now)

	last, seen := c.lastSeen[key]
	c.lastSeen[key] = now

	return seen && now.Sub(last) < c.window
}

// Forget drops a key so the next submission is not suppressed. Used when a
// submission fails terminally and the user should be able to retry at once.
func (c *CooldownCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastSeen, key)
}

// Len returns the number of tracked keys. Intended for tests and metrics.
func (c *CooldownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastSeen)
}

// evictLocked removes entries older than the window. Must be called with
// the lock held.
func (c *CooldownCache) evictLocked(now time.Time) {
	for key, last := range c.lastSeen {
		if now.Sub(last) >= c.window {
			delete(c.lastSeen, key)
		}
	}
}
