// Package tm keeps virtual time and the timer queues driven by it.
package tm

import (
	"sync"
	"time"
)

// Clock is the guest's view of time. It only advances while running, so the guest doesn't see
// time pass while it is suspended or stopped in the debugger. A new clock starts paused.
type Clock struct {
	mu       sync.Mutex
	host     func() time.Time
	base     time.Time
	stalled  time.Duration
	paused   bool
	pausedAt time.Time

	watchers []func(running bool)
}

func NewClock() *Clock {
	return newClock(time.Now)
}

func newClock(host func() time.Time) *Clock {
	now := host()
	return &Clock{host: host, base: now, paused: true, pausedAt: now}
}

// Watch calls fn after every pause or resume that changes the clock's state. fn runs without the
// clock's lock held.
func (c *Clock) Watch(fn func(running bool)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

// Pause and Resume don't nest.
func (c *Clock) Pause() {
	c.mu.Lock()
	changed := !c.paused
	if changed {
		c.paused = true
		c.pausedAt = c.host()
	}
	c.mu.Unlock()
	if changed {
		c.notify(false)
	}
}

func (c *Clock) Resume() {
	c.mu.Lock()
	changed := c.paused
	if changed {
		c.paused = false
		c.stalled += c.host().Sub(c.pausedAt)
	}
	c.mu.Unlock()
	if changed {
		c.notify(true)
	}
}

func (c *Clock) notify(running bool) {
	c.mu.Lock()
	watchers := c.watchers
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(running)
	}
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.paused
}

// Now is the virtual time since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.host()
	if c.paused {
		now = c.pausedAt
	}
	return now.Sub(c.base) - c.stalled
}
