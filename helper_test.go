// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync_test

import (
	"net/netip"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/tcpsync"
	"code.hybscloud.com/tcpsync/simnet"
)

var (
	epoch      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	serverAddr = netip.MustParseAddrPort("10.0.0.2:80")
)

// pair is two established connections on one simulated loop.
type pair struct {
	loop   *simnet.Loop
	net    *simnet.Network
	client *tcpsync.Conn
	server *tcpsync.Conn
	cpcb   *simnet.PCB
	spcb   *simnet.PCB
}

func newNetwork() (*simnet.Loop, *simnet.Network) {
	loop := simnet.NewLoop(epoch)
	return loop, simnet.NewNetwork(loop)
}

// newPair connects a client Conn configured with opts to a default
// server Conn.
func newPair(opts ...tcpsync.Option) *pair {
	loop, net := newNetwork()
	return pairOn(loop, net, opts...)
}

func pairOn(loop *simnet.Loop, net *simnet.Network, opts ...tcpsync.Option) *pair {
	cpcb, spcb := net.Pair()
	return &pair{
		loop:   loop,
		net:    net,
		client: tcpsync.NewConn(cpcb, loop, opts...),
		server: tcpsync.NewConn(spcb, loop),
		cpcb:   cpcb,
		spcb:   spcb,
	}
}

// readAll consumes everything buffered on c.
func readAll(c *tcpsync.Conn) []byte {
	out := make([]byte, c.Available())
	n, _ := c.Read(out)
	return out[:n]
}

// echo is a server-side handler writing back whatever it receives.
type echo struct {
	p *simnet.PCB
}

func (e echo) Recv(p []byte) error {
	if len(p) == 0 {
		return e.p.Close()
	}
	e.p.Write(p, tcpsync.WriteFlagCopy)
	e.p.Output()
	e.p.Recved(len(p))
	return nil
}

func (echo) Sent(int) error { return nil }
func (echo) Poll() error    { return nil }
func (echo) Err(error)      {}

// newEchoPair returns a client Conn whose peer echoes every byte.
func newEchoPair(opts ...tcpsync.Option) (*simnet.Loop, *tcpsync.Conn, *simnet.PCB) {
	loop, net := newNetwork()
	cpcb, spcb := net.Pair()
	spcb.SetHandler(echo{p: spcb})
	return loop, tcpsync.NewConn(cpcb, loop, opts...), cpcb
}

// stepExpr drives a protocol to completion on c via the Step+Advance loop,
// yielding to the loop while the connection would block.
func stepExpr[R any](tb testing.TB, loop *simnet.Loop, c *tcpsync.Conn, protocol kont.Expr[R]) (R, error) {
	tb.Helper()
	result, susp := tcpsync.Step[R](protocol)
	for i := 0; susp != nil; i++ {
		if i > 100000 {
			tb.Fatal("protocol did not complete")
		}
		var err error
		result, susp, err = tcpsync.Advance(c, susp)
		if err != nil {
			if iox.IsWouldBlock(err) {
				loop.Yield(time.Millisecond)
				continue
			}
			return result, err
		}
	}
	return result, nil
}
