// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"errors"
	"net/netip"
	"sync"
	"time"
)

// PCBState is the transport-level state of a connection handle.
type PCBState uint8

const (
	PCBClosed PCBState = iota
	PCBListen
	PCBSynSent
	PCBSynRcvd
	PCBEstablished
	PCBFinWait1
	PCBFinWait2
	PCBCloseWait
	PCBClosing
	PCBLastAck
	PCBTimeWait
)

var pcbStateNames = [...]string{
	PCBClosed:      "CLOSED",
	PCBListen:      "LISTEN",
	PCBSynSent:     "SYN_SENT",
	PCBSynRcvd:     "SYN_RCVD",
	PCBEstablished: "ESTABLISHED",
	PCBFinWait1:    "FIN_WAIT_1",
	PCBFinWait2:    "FIN_WAIT_2",
	PCBCloseWait:   "CLOSE_WAIT",
	PCBClosing:     "CLOSING",
	PCBLastAck:     "LAST_ACK",
	PCBTimeWait:    "TIME_WAIT",
}

func (s PCBState) String() string {
	if int(s) < len(pcbStateNames) {
		return pcbStateNames[s]
	}
	return "UNKNOWN"
}

// WriteFlags qualify a PCB.Write call.
type WriteFlags uint8

const (
	// WriteFlagCopy asks the transport to copy the bytes before Write returns.
	// Without it the transport may keep referencing the caller's slice until
	// the bytes are acknowledged by the peer.
	WriteFlagCopy WriteFlags = 1 << iota
	// WriteFlagMore tells the transport more data follows, so the segment
	// should not be pushed yet.
	WriteFlagMore
)

// KeepAlive holds TCP keep-alive parameters. The zero value disables keep-alive.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// Enabled reports whether all three parameters are set.
func (k KeepAlive) Enabled() bool {
	return k.Idle > 0 && k.Interval > 0 && k.Count > 0
}

// DefaultKeepAlive mirrors the usual stack defaults: two hours idle,
// 75 seconds between probes, nine probes.
var DefaultKeepAlive = KeepAlive{Idle: 7200 * time.Second, Interval: 75 * time.Second, Count: 9}

// Handler receives the per-connection callbacks of a transport handle.
// Callbacks run on the loop goroutine, only while the loop is yielded to.
//
// A callback that aborted the handle returns ErrAborted so the transport
// stops touching it.
type Handler interface {
	// Recv delivers a received segment. The transport hands ownership of p
	// to the handler and must not modify it afterwards. A nil or empty p
	// signals that the peer closed its side.
	Recv(p []byte) error
	// Sent reports that n bytes were acknowledged by the peer.
	Sent(n int) error
	// Poll fires periodically while the handle is alive.
	Poll() error
	// Err reports a fatal error. The handle is already freed when Err fires.
	Err(err error)
}

// PCB is an opaque transport handle of one TCP connection inside a
// non-blocking, callback-driven stack.
//
// Methods never invoke Handler callbacks synchronously; callbacks fire
// only from the loop.
type PCB interface {
	// SetHandler registers the callback slots. nil detaches all of them.
	SetHandler(h Handler)
	// Connect starts an outbound connection. connected fires from the loop
	// once the handshake completes.
	Connect(addr netip.AddrPort, connected func(err error) error) error
	// Close starts a graceful shutdown and frees the handle on success.
	Close() error
	// Abort resets the connection and frees the handle immediately.
	Abort()
	// SndBuf is the number of bytes Write currently accepts.
	SndBuf() int
	// SndBufCapacity is SndBuf with no unacknowledged data.
	SndBufCapacity() int
	// Write queues p for transmission. It returns iox.ErrWouldBlock when
	// the stack is temporarily short of memory for a segment of that size.
	Write(p []byte, flags WriteFlags) error
	// Output transmits what the stack's coalescing policy allows.
	Output() error
	// Recved tells the stack n received bytes were consumed so it can
	// reopen the advertised window.
	Recved(n int)
	State() PCBState
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	SetNoDelay(nodelay bool)
	NoDelay() bool
	SetKeepAlive(k KeepAlive)
	KeepAlive() KeepAlive
}

// Loop is the event loop driving a transport. The adapter never owns it.
//
// The Locker excludes the transport's periodic timer processing while the
// adapter updates structural state; it is never held across Yield.
type Loop interface {
	sync.Locker
	// Now is the loop clock.
	Now() time.Time
	// Yield runs ready callbacks, waiting at most max for one to become ready.
	Yield(max time.Duration)
}

var (
	// ErrClosed reports an operation on a connection without a transport handle.
	ErrClosed = errors.New("tcpsync: connection closed")
	// ErrTimeout reports that a blocking operation stalled past its timeout.
	ErrTimeout = errors.New("tcpsync: operation timed out")
	// ErrAborted reports that the connection was reset or aborted.
	ErrAborted = errors.New("tcpsync: connection aborted")
	// ErrWriteInProgress reports a re-entrant Write on the same connection.
	ErrWriteInProgress = errors.New("tcpsync: write already in progress")
)
