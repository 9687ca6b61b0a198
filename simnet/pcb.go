// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package simnet

import (
	"net/netip"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/tcpsync"
)

// PCB is a simulated transport handle. It implements tcpsync.PCB.
//
// Data written is delivered to the peer's Recv callback one latency after
// Output (or the next poll tick), and acknowledged back through Sent one
// latency later. The send window shrinks by every accepted byte and grows
// back as acknowledgements arrive.
type PCB struct {
	net   *Network
	peer  *PCB
	state tcpsync.PCBState
	h     tcpsync.Handler
	freed bool

	local, remote netip.AddrPort
	connected     func(error) error

	sndCap   int
	unacked  int
	queued   [][]byte
	held     []int
	received int
	recved   int
	inbox    [][]byte

	nodelay bool
	ka      tcpsync.KeepAlive

	memLimit    int
	dropConnect bool
	holdAcks    bool
	closeErr    error

	writes       []int
	aliasedBytes int
	outputs      int
}

// SetMemLimit makes writes larger than n fail with iox.ErrWouldBlock.
// Zero removes the limit.
func (p *PCB) SetMemLimit(n int) { p.memLimit = n }

// DropConnect makes the handshake never complete.
func (p *PCB) DropConnect() { p.dropConnect = true }

// HoldAcks withholds acknowledgements for data this handle sent until
// ReleaseAcks.
func (p *PCB) HoldAcks() { p.holdAcks = true }

// ReleaseAcks delivers withheld acknowledgements.
func (p *PCB) ReleaseAcks() {
	p.holdAcks = false
	held := p.held
	p.held = nil
	for _, n := range held {
		p.ack(n)
	}
}

// FailClose makes Close fail with err.
func (p *PCB) FailClose(err error) { p.closeErr = err }

// Peer returns the other end, or nil before the handshake.
func (p *PCB) Peer() *PCB { return p.peer }

// Writes returns the sizes of accepted writes, in order.
func (p *PCB) Writes() []int { return append([]int(nil), p.writes...) }

// AliasedBytes counts bytes accepted without WriteFlagCopy.
func (p *PCB) AliasedBytes() int { return p.aliasedBytes }

// Outputs counts Output calls.
func (p *PCB) Outputs() int { return p.outputs }

// Received is the number of bytes delivered to the handler.
func (p *PCB) Received() int { return p.received }

// Consumed is the number of bytes acknowledged through Recved.
func (p *PCB) Consumed() int { return p.recved }

// Freed reports whether Close or Abort released the handle, or a fatal
// error did.
func (p *PCB) Freed() bool { return p.freed }

// Inbox drains data that arrived while no handler was registered.
func (p *PCB) Inbox() []byte {
	var out []byte
	for _, seg := range p.inbox {
		out = append(out, seg...)
	}
	p.inbox = nil
	return out
}

// Reset fails the connection on both ends as if a RST was exchanged.
func (p *PCB) Reset() {
	p.net.loop.After(0, func() { p.fail(ErrReset) })
	if peer := p.peer; peer != nil {
		p.net.loop.After(p.net.Latency, func() { peer.fail(ErrReset) })
	}
}

// SetHandler implements tcpsync.PCB.
func (p *PCB) SetHandler(h tcpsync.Handler) { p.h = h }

// Connect implements tcpsync.PCB.
func (p *PCB) Connect(addr netip.AddrPort, connected func(error) error) error {
	if p.state != tcpsync.PCBClosed || p.freed {
		return ErrInUse
	}
	p.local = netip.AddrPortFrom(p.net.local, p.net.ephemeral())
	p.remote = addr
	p.state = tcpsync.PCBSynSent
	p.connected = connected
	p.net.connect(p, addr)
	return nil
}

// Close implements tcpsync.PCB.
func (p *PCB) Close() error {
	if p.closeErr != nil {
		return p.closeErr
	}
	p.output()
	if peer := p.peer; peer != nil && p.state != tcpsync.PCBSynSent {
		p.net.loop.After(p.net.Latency, func() { peer.fin() })
	}
	p.release()
	return nil
}

// Abort implements tcpsync.PCB.
func (p *PCB) Abort() {
	if peer := p.peer; peer != nil {
		p.net.loop.After(p.net.Latency, func() { peer.fail(ErrReset) })
	}
	p.release()
}

// SndBuf implements tcpsync.PCB.
func (p *PCB) SndBuf() int {
	if !p.canSend() {
		return 0
	}
	return p.sndCap - p.unacked
}

// SndBufCapacity implements tcpsync.PCB.
func (p *PCB) SndBufCapacity() int { return p.sndCap }

// Write implements tcpsync.PCB.
func (p *PCB) Write(b []byte, flags tcpsync.WriteFlags) error {
	if !p.canSend() {
		return ErrNotConnected
	}
	if len(b) > p.sndCap-p.unacked {
		return iox.ErrWouldBlock
	}
	if p.memLimit > 0 && len(b) > p.memLimit {
		return iox.ErrWouldBlock
	}
	seg := b
	if flags&tcpsync.WriteFlagCopy != 0 {
		seg = append([]byte(nil), b...)
	} else {
		p.aliasedBytes += len(b)
	}
	p.queued = append(p.queued, seg)
	p.unacked += len(b)
	p.writes = append(p.writes, len(b))
	return nil
}

// Output implements tcpsync.PCB.
func (p *PCB) Output() error {
	p.outputs++
	p.output()
	return nil
}

// Recved implements tcpsync.PCB.
func (p *PCB) Recved(n int) { p.recved += n }

// State implements tcpsync.PCB.
func (p *PCB) State() tcpsync.PCBState { return p.state }

// LocalAddr implements tcpsync.PCB.
func (p *PCB) LocalAddr() netip.AddrPort { return p.local }

// RemoteAddr implements tcpsync.PCB.
func (p *PCB) RemoteAddr() netip.AddrPort { return p.remote }

// SetNoDelay implements tcpsync.PCB.
func (p *PCB) SetNoDelay(nodelay bool) { p.nodelay = nodelay }

// NoDelay implements tcpsync.PCB.
func (p *PCB) NoDelay() bool { return p.nodelay }

// SetKeepAlive implements tcpsync.PCB.
func (p *PCB) SetKeepAlive(k tcpsync.KeepAlive) { p.ka = k }

// KeepAlive implements tcpsync.PCB.
func (p *PCB) KeepAlive() tcpsync.KeepAlive { return p.ka }

func (p *PCB) canSend() bool {
	return !p.freed && (p.state == tcpsync.PCBEstablished || p.state == tcpsync.PCBCloseWait)
}

// output puts queued segments on the wire. The segment is copied at
// delivery time, so an aliased caller buffer must stay intact until then.
func (p *PCB) output() {
	peer := p.peer
	if peer == nil {
		return
	}
	queued := p.queued
	p.queued = nil
	for _, seg := range queued {
		seg := seg
		p.net.loop.After(p.net.Latency, func() {
			peer.deliver(append([]byte(nil), seg...))
			p.net.loop.After(p.net.Latency, func() { p.ack(len(seg)) })
		})
	}
}

func (p *PCB) ack(n int) {
	if p.freed {
		return
	}
	if p.holdAcks {
		p.held = append(p.held, n)
		return
	}
	p.unacked -= n
	if p.h != nil {
		p.h.Sent(n)
	}
}

func (p *PCB) deliver(seg []byte) {
	if p.freed {
		return
	}
	p.received += len(seg)
	if p.h == nil {
		p.inbox = append(p.inbox, seg)
		return
	}
	p.h.Recv(seg)
}

// fin handles the peer's close.
func (p *PCB) fin() {
	if p.freed {
		return
	}
	p.state = tcpsync.PCBCloseWait
	if p.h != nil {
		p.h.Recv(nil)
	}
}

// PeerClose delivers a close from the peer without involving the peer.
func (p *PCB) PeerClose() {
	p.net.loop.After(0, p.fin)
}

func (p *PCB) fail(err error) {
	if p.freed {
		return
	}
	h := p.h
	p.release()
	if h != nil {
		h.Err(err)
	}
}

func (p *PCB) release() {
	p.freed = true
	p.state = tcpsync.PCBClosed
	p.h = nil
	p.queued = nil
}

func (p *PCB) startPoll() {
	p.net.loop.After(PollInterval, func() {
		if p.freed {
			return
		}
		p.output()
		if p.h != nil {
			p.h.Poll()
		}
		p.startPoll()
	})
}
