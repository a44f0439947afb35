// Package alert - Cooldown-gated alert events, artifact capture and dispatch.
package alert

import (
	"sync"
	"time"

	"github.com/nvr-ai/go-behavior/timeutil"
)

// Cooldown allows at most one trigger per interval.
type Cooldown struct {
	clock    timeutil.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	seen bool
}

// NewCooldown creates a cooldown gate with no prior trigger.
func NewCooldown(clock timeutil.Clock, interval time.Duration) *Cooldown {
	return &Cooldown{clock: clock, interval: interval}
}

// Allow reports whether a trigger may fire now and, if so, records it.
//
// The first call always succeeds. Later calls succeed only when strictly more
// than the interval has elapsed since the last recorded trigger.
func (c *Cooldown) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.seen && now.Sub(c.last) <= c.interval {
		return false
	}
	c.last = now
	c.seen = true
	return true
}

// Last returns the time of the last allowed trigger and false if none.
func (c *Cooldown) Last() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.seen
}
