package core

import "time"

// Clock measures time since Start on a monotonic source. Elapsed only moves
// when Update is called, so every reader in a frame sees the same value.
type Clock struct {
	now     func() time.Time
	started time.Time
	elapsed time.Duration
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Update() {
	if c.started.IsZero() {
		return
	}
	c.elapsed = c.now().Sub(c.started)
}

// Start resets elapsed time to zero.
func (c *Clock) Start() {
	c.started, c.elapsed = c.now(), 0
}

// Stop freezes elapsed time at its last updated value.
func (c *Clock) Stop() {
	c.started = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}
