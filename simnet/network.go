// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package simnet

import (
	"errors"
	"net/netip"
	"time"

	"code.hybscloud.com/tcpsync"
)

const (
	// DefaultSndBuf matches a small embedded stack: two full segments.
	DefaultSndBuf = 2 * 2872
	// DefaultLatency is the one-way delivery delay.
	DefaultLatency = time.Millisecond
	// PollInterval is the period of the poll callback.
	PollInterval = 500 * time.Millisecond
)

var (
	// ErrReset is delivered through Handler.Err when a connection is reset.
	ErrReset = errors.New("simnet: connection reset")
	// ErrRefused is delivered through Handler.Err when nobody listens.
	ErrRefused = errors.New("simnet: connection refused")
	// ErrNotConnected is returned by Write on a handle that cannot send.
	ErrNotConnected = errors.New("simnet: not connected")
	// ErrInUse is returned by Connect on a handle that is not fresh.
	ErrInUse = errors.New("simnet: handle in use")
)

// Network connects simulated PCBs on one loop.
type Network struct {
	loop      *Loop
	listeners map[netip.AddrPort]func(*PCB)
	nextPort  uint16
	local     netip.Addr

	// Latency is the one-way delay of data, acknowledgements and control.
	Latency time.Duration
	// SndBuf is the send capacity of new PCBs.
	SndBuf int
}

// NewNetwork creates a network whose handles all live on loop.
func NewNetwork(loop *Loop) *Network {
	return &Network{
		loop:      loop,
		listeners: make(map[netip.AddrPort]func(*PCB)),
		nextPort:  49152,
		local:     netip.AddrFrom4([4]byte{10, 0, 0, 1}),
		Latency:   DefaultLatency,
		SndBuf:    DefaultSndBuf,
	}
}

// Loop returns the loop the network runs on.
func (n *Network) Loop() *Loop {
	return n.loop
}

// Listen accepts connections to addr; accept receives each new,
// established server-side handle from the loop.
func (n *Network) Listen(addr netip.AddrPort, accept func(*PCB)) {
	n.listeners[addr] = accept
}

// Unlisten stops accepting connections to addr.
func (n *Network) Unlisten(addr netip.AddrPort) {
	delete(n.listeners, addr)
}

// NewPCB returns a fresh handle ready for Connect.
func (n *Network) NewPCB() *PCB {
	return &PCB{net: n, sndCap: n.SndBuf, state: tcpsync.PCBClosed}
}

// Pair returns two established handles connected to each other.
func (n *Network) Pair() (*PCB, *PCB) {
	a, b := n.NewPCB(), n.NewPCB()
	a.local = netip.AddrPortFrom(n.local, n.ephemeral())
	b.local = netip.AddrPortFrom(n.local, n.ephemeral())
	a.remote, b.remote = b.local, a.local
	a.peer, b.peer = b, a
	a.state, b.state = tcpsync.PCBEstablished, tcpsync.PCBEstablished
	a.startPoll()
	b.startPoll()
	return a, b
}

func (n *Network) ephemeral() uint16 {
	n.nextPort++
	return n.nextPort
}

// connect completes a handshake started by client.
func (n *Network) connect(client *PCB, addr netip.AddrPort) {
	n.loop.After(n.Latency, func() {
		if client.state != tcpsync.PCBSynSent || client.dropConnect {
			return
		}
		accept, ok := n.listeners[addr]
		if !ok {
			n.loop.After(n.Latency, func() { client.fail(ErrRefused) })
			return
		}
		server := n.NewPCB()
		server.local = addr
		server.remote = client.local
		server.peer = client
		server.state = tcpsync.PCBEstablished
		client.peer = server
		server.startPoll()
		accept(server)
		n.loop.After(n.Latency, func() {
			if client.state != tcpsync.PCBSynSent {
				return
			}
			client.state = tcpsync.PCBEstablished
			client.startPoll()
			if client.connected != nil {
				client.connected(nil)
			}
		})
	})
}

var (
	_ tcpsync.Loop = (*Loop)(nil)
	_ tcpsync.PCB  = (*PCB)(nil)
)
