// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"net/netip"
	"time"
)

// State is the connection state as seen by stream users.
type State uint8

const (
	// StateClosed means nothing more can be written.
	StateClosed State = iota
	StateConnecting
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	}
	return "UNKNOWN"
}

// pendingWrite describes the in-flight Write call.
type pendingWrite struct {
	src     []byte
	written int
	active  bool
	copy    bool

	// acknowledgement wait of a sync-mode Send
	flushing bool
	sndbuf   int
	ackStart time.Time
}

// Conn adapts a callback-driven transport handle into a blocking,
// buffered byte stream. All methods must be called from the loop
// goroutine; blocking calls yield to the loop instead of parking.
//
// A Conn is shared by reference counting: each stream handle calls Ref
// and later Unref. The last Unref discards buffered data, closes the
// connection and fires the discard callback.
type Conn struct {
	pcb  PCB
	loop Loop

	rx rxChain

	discard func(*Conn)
	refcnt  int
	dead    bool

	wr             pendingWrite
	timeout        time.Duration
	flushWait      time.Duration
	pollInterval   time.Duration
	opStart        time.Time
	sendWaiting    bool
	connectPending bool

	sync   bool
	err    error
	serial Serial
	trace  Tracer
}

// NewConn wraps pcb, which is either fresh (for Connect) or already
// established (accepted elsewhere). The Conn registers itself as the
// handle's callback handler.
func NewConn(pcb PCB, loop Loop, opts ...Option) *Conn {
	c := &Conn{
		pcb:          pcb,
		loop:         loop,
		rx:           newRxChain(),
		timeout:      DefaultTimeout,
		flushWait:    DefaultFlushWait,
		pollInterval: DefaultPollInterval,
		serial:       nextSerial(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if pcb != nil {
		pcb.SetHandler((*handler)(c))
	}
	return c
}

// PCB returns the transport handle, or nil once it was closed or aborted.
func (c *Conn) PCB() PCB {
	return c.pcb
}

// Serial returns the identifier assigned to this connection.
func (c *Conn) Serial() Serial {
	return c.serial
}

// Err returns the fatal transport error that freed the handle, if any.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) tracef(format string, args ...any) {
	if c.trace != nil {
		c.trace("#%d "+format, append([]any{c.serial}, args...)...)
	}
}

// detach unregisters every callback slot. Caller holds no loop lock.
func (c *Conn) detach() {
	c.pcb.SetHandler(nil)
}

// Abort resets the connection immediately. Safe to call repeatedly.
func (c *Conn) Abort() {
	if c.pcb == nil {
		return
	}
	c.tracef("abort")
	c.detach()
	c.loop.Lock()
	c.pcb.Abort()
	c.pcb = nil
	c.loop.Unlock()
}

// Close shuts the connection down gracefully. Safe to call repeatedly.
// If the transport refuses to close, the connection is aborted and
// ErrAborted is returned.
func (c *Conn) Close() error {
	if c.pcb == nil {
		return nil
	}
	c.tracef("close")
	c.detach()
	c.loop.Lock()
	defer c.loop.Unlock()
	err := c.pcb.Close()
	if err != nil {
		c.tracef("close failed: %v", err)
		c.pcb.Abort()
		err = ErrAborted
	}
	c.pcb = nil
	return err
}

// Ref takes a reference on behalf of a new stream handle.
func (c *Conn) Ref() {
	c.refcnt++
	c.tracef("ref %d", c.refcnt)
}

// Unref drops a reference. Dropping the last one discards unread data,
// closes the connection and fires the discard callback, exactly once.
// The Conn must not be used afterwards.
func (c *Conn) Unref() {
	if c.dead {
		return
	}
	c.tracef("unref %d", c.refcnt)
	c.refcnt--
	if c.refcnt > 0 {
		return
	}
	c.dead = true
	c.DiscardReceived()
	c.Close()
	if c.discard != nil {
		c.discard(c)
	}
	c.tracef("released")
}

// RefCount returns the number of live references.
func (c *Conn) RefCount() int {
	return c.refcnt
}

// Connect connects to addr, blocking until the handshake completes, the
// transport fails, or the timeout elapses. On timeout the connection is
// aborted.
func (c *Conn) Connect(addr netip.AddrPort) error {
	if c.pcb == nil {
		return ErrClosed
	}
	c.loop.Lock()
	err := c.pcb.Connect(addr, (*handler)(c).connected)
	c.loop.Unlock()
	if err != nil {
		return err
	}
	c.connectPending = true
	c.opStart = c.loop.Now()
	c.delay(func() bool { return c.connectPending })
	c.connectPending = false
	if c.pcb == nil {
		c.tracef("connect aborted")
		if c.err != nil {
			return c.err
		}
		return ErrAborted
	}
	if c.State() != StateEstablished {
		c.tracef("connect timeout")
		c.Abort()
		return ErrTimeout
	}
	return nil
}

// State maps the transport state onto the four stream states. A peer
// initiated close already counts as closed because no further writes
// are possible.
func (c *Conn) State() State {
	if c.pcb == nil {
		return StateClosed
	}
	switch c.pcb.State() {
	case PCBSynSent, PCBSynRcvd:
		return StateConnecting
	case PCBEstablished:
		return StateEstablished
	case PCBFinWait1, PCBFinWait2, PCBLastAck, PCBTimeWait:
		return StateClosing
	}
	return StateClosed
}

// Connected reports whether the connection is established or still has
// unread data.
func (c *Conn) Connected() bool {
	return c.State() == StateEstablished || c.rx.size() > 0
}

// RemoteAddr returns the peer address, or the zero value without a handle.
func (c *Conn) RemoteAddr() netip.AddrPort {
	if c.pcb == nil {
		return netip.AddrPort{}
	}
	return c.pcb.RemoteAddr()
}

// LocalAddr returns the local address, or the zero value without a handle.
func (c *Conn) LocalAddr() netip.AddrPort {
	if c.pcb == nil {
		return netip.AddrPort{}
	}
	return c.pcb.LocalAddr()
}

// notifyError wakes a pending connect or write.
func (c *Conn) notifyError() {
	c.connectPending = false
	c.sendWaiting = false
}

// handler is the transport-facing view of a Conn.
type handler Conn

func (h *handler) Recv(p []byte) error {
	c := (*Conn)(h)
	if len(p) == 0 {
		c.tracef("peer closed, %d unread", c.rx.size())
		c.notifyError()
		if c.rx.size() > 0 {
			return nil
		}
		c.Abort()
		return ErrAborted
	}
	c.tracef("recv %d, %d buffered", len(p), c.rx.size())
	c.loop.Lock()
	c.rx.append(p)
	c.loop.Unlock()
	return nil
}

func (h *handler) Sent(n int) error {
	c := (*Conn)(h)
	c.tracef("acked %d", n)
	c.resumeWrite()
	return nil
}

func (h *handler) Poll() error {
	(*Conn)(h).resumeWrite()
	return nil
}

func (h *handler) Err(err error) {
	c := (*Conn)(h)
	c.tracef("error %v", err)
	c.pcb = nil
	c.err = err
	c.notifyError()
}

func (h *handler) connected(err error) error {
	c := (*Conn)(h)
	if err != nil {
		c.tracef("connect failed: %v", err)
	}
	c.connectPending = false
	return nil
}
