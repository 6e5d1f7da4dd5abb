package alert

import (
	"sync"
	"time"
)

// CooldownStore records the last alert instant per device and decides
// whether a new alert may fire.
type CooldownStore interface {
	// TryAcquire reports whether an alert for key may fire at now, recording
	// now as the last alert instant if so. The check and the update are atomic.
	TryAcquire(key string, now time.Time, window time.Duration) bool
}

// MemoryCooldown is an in-process CooldownStore. State is lost on restart.
type MemoryCooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryCooldown returns an empty MemoryCooldown.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{last: make(map[string]time.Time)}
}

func (c *MemoryCooldown) TryAcquire(key string, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.last[key]; ok && now.Sub(prev) < window {
		return false
	}
	c.last[key] = now
	return true
}

// Last returns the last alert instant recorded for key.
func (c *MemoryCooldown) Last(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[key]
	return t, ok
}

// Reset forgets every recorded alert.
func (c *MemoryCooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}
