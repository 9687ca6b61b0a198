// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import "time"

const (
	// DefaultTimeout bounds connect and write stalls.
	DefaultTimeout = 5 * time.Second
	// DefaultFlushWait bounds acknowledgement stalls in sync mode.
	DefaultFlushWait = 300 * time.Millisecond
	// DefaultPollInterval is how long one cooperative wait step may yield.
	DefaultPollInterval = time.Millisecond
)

// Tracer receives debug traces in printf style.
type Tracer func(format string, args ...any)

// Option configures a Conn at construction.
type Option func(*Conn)

// WithTimeout sets the connect and write stall timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// WithSync enables sync mode: writes are not copied by the transport and
// each Write waits for the peer to acknowledge everything.
func WithSync(sync bool) Option {
	return func(c *Conn) {
		c.sync = sync
	}
}

// WithFlushWait sets the acknowledgement stall bound used in sync mode.
func WithFlushWait(d time.Duration) Option {
	return func(c *Conn) {
		c.flushWait = d
	}
}

// WithPollInterval sets how long each cooperative wait step may yield.
func WithPollInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.pollInterval = d
	}
}

// WithDiscard registers fn to run once the last reference is dropped.
func WithDiscard(fn func(*Conn)) Option {
	return func(c *Conn) {
		c.discard = fn
	}
}

// WithTracer routes debug traces to t.
func WithTracer(t Tracer) Option {
	return func(c *Conn) {
		c.trace = t
	}
}

// SetTimeout sets the connect and write stall timeout.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Timeout returns the connect and write stall timeout.
func (c *Conn) Timeout() time.Duration {
	return c.timeout
}

// SetSync switches between sync and copy mode.
func (c *Conn) SetSync(sync bool) {
	c.sync = sync
}

// Sync reports whether the connection is in sync mode.
func (c *Conn) Sync() bool {
	return c.sync
}

// SetNoDelay disables (true) or enables (false) Nagle coalescing.
func (c *Conn) SetNoDelay(nodelay bool) {
	if c.pcb == nil {
		return
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	c.pcb.SetNoDelay(nodelay)
}

// NoDelay reports whether Nagle coalescing is disabled.
func (c *Conn) NoDelay() bool {
	if c.pcb == nil {
		return false
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	return c.pcb.NoDelay()
}

// SetKeepAlive enables keep-alive probing. A zero value for any of the
// three parameters disables it.
func (c *Conn) SetKeepAlive(idle, interval time.Duration, count int) {
	if c.pcb == nil {
		return
	}
	k := KeepAlive{Idle: idle, Interval: interval, Count: count}
	if !k.Enabled() {
		k = KeepAlive{}
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	c.pcb.SetKeepAlive(k)
}

// DisableKeepAlive turns keep-alive probing off.
func (c *Conn) DisableKeepAlive() {
	c.SetKeepAlive(0, 0, 0)
}

func (c *Conn) keepAlive() KeepAlive {
	if c.pcb == nil {
		return KeepAlive{}
	}
	return c.pcb.KeepAlive()
}

// KeepAliveEnabled reports whether keep-alive probing is on.
func (c *Conn) KeepAliveEnabled() bool {
	return c.keepAlive().Enabled()
}

// KeepAliveIdle returns the idle time before probing, rounded to the
// second, or 0 when disabled.
func (c *Conn) KeepAliveIdle() time.Duration {
	k := c.keepAlive()
	if !k.Enabled() {
		return 0
	}
	return k.Idle.Round(time.Second)
}

// KeepAliveInterval returns the time between probes, rounded to the
// second, or 0 when disabled.
func (c *Conn) KeepAliveInterval() time.Duration {
	k := c.keepAlive()
	if !k.Enabled() {
		return 0
	}
	return k.Interval.Round(time.Second)
}

// KeepAliveCount returns the number of unanswered probes before the
// connection is dropped, or 0 when disabled.
func (c *Conn) KeepAliveCount() int {
	k := c.keepAlive()
	if !k.Enabled() {
		return 0
	}
	return k.Count
}
