// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"io"
	"time"

	"code.hybscloud.com/iox"
)

// Available returns the number of received bytes not yet consumed.
func (c *Conn) Available() int {
	return c.rx.size()
}

// emptyErr is the error for a read that found nothing buffered:
// iox.ErrWouldBlock while more may arrive, io.EOF once it cannot.
func (c *Conn) emptyErr() error {
	if c.pcb == nil {
		return io.EOF
	}
	switch c.pcb.State() {
	case PCBClosed, PCBCloseWait, PCBClosing, PCBLastAck, PCBTimeWait:
		return io.EOF
	}
	return iox.ErrWouldBlock
}

// Read consumes up to len(p) buffered bytes. It never blocks: with
// nothing buffered it returns iox.ErrWouldBlock, or io.EOF once the
// peer closed and everything was drained.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.rx.empty() {
		return 0, c.emptyErr()
	}
	n := 0
	for n < len(p) && !c.rx.empty() {
		m := copy(p[n:], c.rx.head())
		c.consume(m)
		n += m
	}
	return n, nil
}

// ReadByte consumes one buffered byte.
func (c *Conn) ReadByte() (byte, error) {
	if c.rx.empty() {
		return 0, c.emptyErr()
	}
	b := c.rx.head()[0]
	c.consume(1)
	return b, nil
}

// PeekByte returns the next buffered byte without consuming it.
func (c *Conn) PeekByte() (byte, error) {
	if c.rx.empty() {
		return 0, c.emptyErr()
	}
	return c.rx.head()[0], nil
}

// PeekBytes copies up to len(p) buffered bytes into p without consuming them.
func (c *Conn) PeekBytes(p []byte) int {
	return c.rx.peek(p)
}

// PeekBuffer returns a view of the contiguous bytes at the head of the
// receive buffer, PeekAvailable bytes long. The view stays valid until
// the next consuming call; follow it with PeekConsume.
func (c *Conn) PeekBuffer() []byte {
	return c.rx.head()
}

// PeekAvailable returns len(PeekBuffer()).
func (c *Conn) PeekAvailable() int {
	return len(c.rx.head())
}

// PeekConsume consumes n bytes previously seen through PeekBuffer.
// n is clamped to PeekAvailable.
func (c *Conn) PeekConsume(n int) {
	if n <= 0 || c.rx.empty() {
		return
	}
	if m := len(c.rx.head()); n > m {
		n = m
	}
	c.consume(n)
}

// DiscardReceived drops all buffered bytes, acknowledging them to the
// transport so the receive window reopens.
func (c *Conn) DiscardReceived() {
	if c.rx.empty() {
		return
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	n := c.rx.reset()
	c.tracef("discard %d", n)
	if c.pcb != nil {
		c.pcb.Recved(n)
	}
}

// WaitAvailable yields to the loop until data is buffered, the
// connection can no longer receive, or timeout elapses.
func (c *Conn) WaitAvailable(timeout time.Duration) bool {
	Delay(c.loop, timeout, c.pollInterval, func() bool {
		return c.rx.empty() && c.emptyErr() != io.EOF
	})
	return !c.rx.empty()
}

// consume advances the head by n bytes, n <= len(head), and acknowledges
// them to the transport.
func (c *Conn) consume(n int) {
	c.loop.Lock()
	defer c.loop.Unlock()
	c.rx.consume(n)
	if c.pcb != nil {
		c.pcb.Recved(n)
	}
}
