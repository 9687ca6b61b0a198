// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import "time"

// Delay yields to loop while blocked reports true, for at most timeout.
// Between checks it calls loop.Yield(interval) so transport callbacks can
// run and clear whatever blocked observes.
// Returns true if blocked cleared before the timeout.
//
// Delay runs entirely on the calling goroutine.
func Delay(loop Loop, timeout, interval time.Duration, blocked func() bool) bool {
	start := loop.Now()
	for blocked() {
		if loop.Now().Sub(start) >= timeout {
			return false
		}
		loop.Yield(interval)
	}
	return true
}

// delay is Delay with the connection's timeout and poll interval.
func (c *Conn) delay(blocked func() bool) bool {
	return Delay(c.loop, c.timeout, c.pollInterval, blocked)
}

// isTimeout reports whether the current operation stalled past the timeout.
func (c *Conn) isTimeout() bool {
	return c.loop.Now().Sub(c.opStart) > c.timeout
}
