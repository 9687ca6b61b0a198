// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package netpcb

import (
	"errors"
	"fmt"
	"net/netip"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/tcpsync"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

const (
	// DefaultSndBuf is the send window exposed to the adapter.
	DefaultSndBuf = 2 * 2872
	// DefaultRcvWnd bounds bytes handed to Recv and not yet consumed.
	DefaultRcvWnd = 4 * 2872
	segSize       = 1460
)

var (
	// ErrInUse is returned by Connect on a handle that is not fresh.
	ErrInUse = errors.New("netpcb: handle in use")
	// ErrNotConnected is returned by Write on a handle that cannot send.
	ErrNotConnected = errors.New("netpcb: not connected")
)

// PCB is a TCP socket driven by a Loop. It implements tcpsync.PCB.
//
// Accepted bytes are staged in a pooled buffer and flushed to the kernel
// by Output. Bytes leave the send window when the kernel reports them
// acknowledged (SIOCOUTQ), which the loop polls while any are in flight.
type PCB struct {
	loop  *Loop
	fd    int
	state tcpsync.PCBState
	h     tcpsync.Handler
	freed bool

	local, remote netip.AddrPort
	connected     func(error) error

	stage    *bytebufferpool.ByteBuffer
	inKernel int
	sndCap   int

	rcvWnd     int
	unconsumed int

	nodelay bool
	ka      tcpsync.KeepAlive

	// closing handles were released by Close but still flush staged bytes.
	closing bool
	// werr is a send failure reported from the loop, never from Output.
	werr error
}

// NewPCB returns a fresh handle ready for Connect.
func NewPCB(loop *Loop) *PCB {
	return &PCB{loop: loop, fd: -1, sndCap: DefaultSndBuf, rcvWnd: DefaultRcvWnd}
}

func newAccepted(loop *Loop, fd int, local, remote netip.AddrPort) *PCB {
	p := NewPCB(loop)
	p.fd = fd
	p.local, p.remote = local, remote
	p.state = tcpsync.PCBEstablished
	p.stage = bytebufferpool.Get()
	loop.register(p)
	return p
}

// SetHandler implements tcpsync.PCB.
func (p *PCB) SetHandler(h tcpsync.Handler) { p.h = h }

// Connect implements tcpsync.PCB. The handshake runs in the kernel; the
// loop reports its outcome through connected.
func (p *PCB) Connect(addr netip.AddrPort, connected func(error) error) error {
	if p.fd >= 0 || p.freed {
		return ErrInUse
	}
	family, sa := sockaddr(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	p.fd = fd
	p.applyOptions()
	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		p.fd = -1
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	p.remote = addr
	p.state = tcpsync.PCBSynSent
	p.connected = connected
	p.stage = bytebufferpool.Get()
	p.loop.register(p)
	return nil
}

// Close implements tcpsync.PCB. Staged bytes are still flushed by the
// loop before the descriptor is closed.
func (p *PCB) Close() error {
	if p.freed {
		return nil
	}
	p.h = nil
	p.freed = true
	p.state = tcpsync.PCBClosed
	if p.fd < 0 {
		p.free()
		return nil
	}
	p.flush()
	if p.stage.Len() == 0 {
		p.free()
		return nil
	}
	p.closing = true
	return nil
}

// Abort implements tcpsync.PCB. The peer sees a reset.
func (p *PCB) Abort() {
	if p.fd >= 0 {
		unix.SetsockoptLinger(p.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	}
	p.h = nil
	p.freed = true
	p.state = tcpsync.PCBClosed
	p.free()
}

// SndBuf implements tcpsync.PCB.
func (p *PCB) SndBuf() int {
	if !p.canSend() {
		return 0
	}
	return max(0, p.sndCap-p.stage.Len()-p.inKernel)
}

// SndBufCapacity implements tcpsync.PCB.
func (p *PCB) SndBufCapacity() int { return p.sndCap }

// Write implements tcpsync.PCB. Bytes are always copied into the staging
// buffer, so WriteFlagCopy is implied.
func (p *PCB) Write(b []byte, _ tcpsync.WriteFlags) error {
	if !p.canSend() {
		return ErrNotConnected
	}
	if len(b) > p.SndBuf() {
		return iox.ErrWouldBlock
	}
	p.stage.Write(b)
	return nil
}

// Output implements tcpsync.PCB.
func (p *PCB) Output() error {
	if p.fd < 0 || p.state == tcpsync.PCBSynSent {
		return nil
	}
	return p.flush()
}

// Recved implements tcpsync.PCB.
func (p *PCB) Recved(n int) {
	p.unconsumed = max(0, p.unconsumed-n)
}

// State implements tcpsync.PCB.
func (p *PCB) State() tcpsync.PCBState { return p.state }

// LocalAddr implements tcpsync.PCB.
func (p *PCB) LocalAddr() netip.AddrPort { return p.local }

// RemoteAddr implements tcpsync.PCB.
func (p *PCB) RemoteAddr() netip.AddrPort { return p.remote }

// SetNoDelay implements tcpsync.PCB.
func (p *PCB) SetNoDelay(nodelay bool) {
	p.nodelay = nodelay
	if p.fd >= 0 {
		unix.SetsockoptInt(p.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(nodelay))
	}
}

// NoDelay implements tcpsync.PCB.
func (p *PCB) NoDelay() bool { return p.nodelay }

// SetKeepAlive implements tcpsync.PCB.
func (p *PCB) SetKeepAlive(k tcpsync.KeepAlive) {
	p.ka = k
	if p.fd >= 0 {
		p.applyKeepAlive()
	}
}

// KeepAlive implements tcpsync.PCB.
func (p *PCB) KeepAlive() tcpsync.KeepAlive { return p.ka }

func (p *PCB) applyOptions() {
	if p.nodelay {
		unix.SetsockoptInt(p.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if p.ka.Enabled() {
		p.applyKeepAlive()
	}
}

func (p *PCB) applyKeepAlive() {
	if !p.ka.Enabled() {
		unix.SetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 0)
		return
	}
	unix.SetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	unix.SetsockoptInt(p.fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, max(1, int(p.ka.Idle.Seconds())))
	unix.SetsockoptInt(p.fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, max(1, int(p.ka.Interval.Seconds())))
	unix.SetsockoptInt(p.fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, p.ka.Count)
}

func (p *PCB) canSend() bool {
	return !p.freed && p.fd >= 0 &&
		(p.state == tcpsync.PCBEstablished || p.state == tcpsync.PCBCloseWait)
}

// interest returns the poll events the handle waits for.
func (p *PCB) interest() int16 {
	var ev int16
	switch {
	case p.state == tcpsync.PCBSynSent:
		ev |= unix.POLLOUT
	case p.closing:
		ev |= unix.POLLOUT
	default:
		if p.state == tcpsync.PCBEstablished && p.unconsumed < p.rcvWnd {
			ev |= unix.POLLIN
		}
		if p.stage.Len() > 0 {
			ev |= unix.POLLOUT
		}
	}
	return ev
}

// ready dispatches poll readiness.
func (p *PCB) ready(revents int16) {
	if p.fd < 0 {
		return
	}
	if p.werr != nil && !p.closing {
		p.fail(p.werr)
		return
	}
	if p.closing {
		p.flush()
		if p.stage.Len() == 0 || revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			p.free()
		}
		return
	}
	if p.state == tcpsync.PCBSynSent {
		if revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
			p.finishConnect()
		}
		return
	}
	if revents&unix.POLLOUT != 0 {
		p.flush()
	}
	if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		p.receive()
	}
}

func (p *PCB) finishConnect() {
	soerr, err := unix.GetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		p.fail(err)
		return
	}
	p.state = tcpsync.PCBEstablished
	if sa, err := unix.Getsockname(p.fd); err == nil {
		p.local = addrPort(sa)
	}
	if p.connected != nil {
		p.connected(nil)
	}
}

// receive reads at most one segment, bounded by the receive window.
func (p *PCB) receive() {
	room := min(segSize, p.rcvWnd-p.unconsumed)
	if room <= 0 {
		return
	}
	buf := make([]byte, room)
	n, err := unix.Read(p.fd, buf)
	switch {
	case n > 0:
		p.unconsumed += n
		if p.h != nil {
			p.h.Recv(buf[:n])
		}
	case err == nil:
		p.state = tcpsync.PCBCloseWait
		if p.h != nil {
			p.h.Recv(nil)
		}
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
	default:
		p.fail(err)
	}
}

// flush moves staged bytes into the kernel without blocking.
func (p *PCB) flush() error {
	for p.stage.Len() > 0 {
		n, err := unix.Write(p.fd, p.stage.B)
		if n > 0 {
			p.inKernel += n
			p.stage.B = p.stage.B[:copy(p.stage.B, p.stage.B[n:])]
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return nil
			}
			p.werr = err
			return err
		}
	}
	return nil
}

// checkAcked reports bytes the kernel no longer holds as acknowledged.
func (p *PCB) checkAcked() {
	if p.fd < 0 || p.inKernel == 0 {
		return
	}
	p.loop.Lock()
	outq, err := unix.IoctlGetInt(p.fd, unix.SIOCOUTQ)
	acked := 0
	if err == nil && outq < p.inKernel {
		acked = p.inKernel - outq
		p.inKernel = outq
	}
	p.loop.Unlock()
	if acked > 0 && p.h != nil {
		p.h.Sent(acked)
	}
}

func (p *PCB) tick() {
	if p.fd < 0 || p.freed {
		return
	}
	if p.werr != nil {
		p.fail(p.werr)
		return
	}
	p.Output()
	if p.h != nil {
		p.h.Poll()
	}
}

func (p *PCB) fail(err error) {
	h := p.h
	p.h = nil
	p.freed = true
	p.state = tcpsync.PCBClosed
	p.free()
	if h != nil {
		h.Err(err)
	}
}

// free closes the descriptor and returns the staging buffer.
func (p *PCB) free() {
	if p.fd >= 0 {
		p.loop.unregister(p.fd)
		unix.Close(p.fd)
		p.fd = -1
	}
	if p.stage != nil {
		bytebufferpool.Put(p.stage)
		p.stage = nil
	}
	p.closing = false
	p.inKernel = 0
}

func sockaddr(ap netip.AddrPort) (int, unix.Sockaddr) {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ tcpsync.Loop = (*Loop)(nil)
	_ tcpsync.PCB  = (*PCB)(nil)
)
