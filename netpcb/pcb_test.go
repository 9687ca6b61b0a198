// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package netpcb_test

import (
	"bytes"
	"io"
	"net/netip"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/tcpsync"
	"code.hybscloud.com/tcpsync/netpcb"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var loopback = netip.MustParseAddrPort("127.0.0.1:0")

// dial connects a client Conn to a fresh listener and returns both ends.
func dial(t *testing.T, opts ...tcpsync.Option) (*netpcb.Loop, *tcpsync.Conn, *tcpsync.Conn) {
	t.Helper()
	loop, err := netpcb.NewLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	var server *tcpsync.Conn
	ln, err := netpcb.Listen(loop, loopback, func(p *netpcb.PCB) {
		server = tcpsync.NewConn(p, loop)
	})
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	require.NotZero(t, ln.Addr().Port())

	client := tcpsync.NewConn(netpcb.NewPCB(loop), loop, opts...)
	require.NoError(t, client.Connect(ln.Addr()))
	require.Equal(t, tcpsync.StateEstablished, client.State())
	require.Equal(t, ln.Addr(), client.RemoteAddr())

	for i := 0; server == nil && i < 100; i++ {
		loop.Yield(10 * time.Millisecond)
	}
	require.NotNil(t, server, "listener did not accept")
	return loop, client, server
}

func readN(t *testing.T, c *tcpsync.Conn, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, 4096)
	for len(out) < n {
		if !c.WaitAvailable(2 * time.Second) {
			t.Fatalf("read %d of %d bytes", len(out), n)
		}
		m, err := c.Read(buf[:min(len(buf), n-len(out))])
		require.NoError(t, err)
		out = append(out, buf[:m]...)
	}
	return out
}

func TestLoopbackRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, client, server := dial(t)

	n, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", string(readN(t, server, 4)))

	_, err = server.Write([]byte("pong"))
	require.NoError(t, err)
	require.Equal(t, "pong", string(readN(t, client, 4)))
	require.True(t, client.WaitUntilAcked(time.Second))
}

func TestLoopbackLargeWrite(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, client, server := dial(t, tcpsync.WithSync(true))

	// Larger than the send window, small enough for the kernel buffers.
	data := make([]byte, 64<<10)
	for i := range data {
		data[i] = byte(i % 251)
	}
	n, err := client.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, client.PCB().SndBufCapacity(), client.AvailableForWrite())
	require.True(t, bytes.Equal(data, readN(t, server, len(data))))
}

func TestLoopbackPeerClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	loop, client, server := dial(t)

	_, err := server.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, server.Close())

	require.Equal(t, "bye", string(readN(t, client, 3)))
	for i := 0; client.PCB() != nil && client.PCB().State() == tcpsync.PCBEstablished && i < 100; i++ {
		loop.Yield(10 * time.Millisecond)
	}
	require.Equal(t, tcpsync.StateClosed, client.State())
	_, err = client.Read(make([]byte, 1))
	require.Equal(t, io.EOF, err)
}

func TestLoopbackAbort(t *testing.T) {
	defer goleak.VerifyNone(t)
	loop, client, server := dial(t)

	client.Abort()
	for i := 0; server.PCB() != nil && i < 100; i++ {
		loop.Yield(10 * time.Millisecond)
	}
	require.Nil(t, server.PCB())
	require.Error(t, server.Err())
}

func TestConnectRefused(t *testing.T) {
	defer goleak.VerifyNone(t)
	loop, err := netpcb.NewLoop()
	require.NoError(t, err)
	defer loop.Close()

	// Bind and close a listener to find a port nobody listens on.
	ln, err := netpcb.Listen(loop, loopback, func(*netpcb.PCB) {})
	require.NoError(t, err)
	addr := ln.Addr()
	require.NoError(t, ln.Close())

	c := tcpsync.NewConn(netpcb.NewPCB(loop), loop, tcpsync.WithTimeout(time.Second))
	err = c.Connect(addr)
	require.Error(t, err)
	require.NotEqual(t, tcpsync.ErrTimeout, err)
	require.Equal(t, tcpsync.StateClosed, c.State())
}

func TestSocketOptions(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, client, _ := dial(t)

	client.SetNoDelay(true)
	require.True(t, client.NoDelay())
	client.SetKeepAlive(30*time.Second, 5*time.Second, 4)
	require.True(t, client.KeepAliveEnabled())
	require.Equal(t, 30*time.Second, client.KeepAliveIdle())
	require.Equal(t, 4, client.KeepAliveCount())
	client.DisableKeepAlive()
	require.False(t, client.KeepAliveEnabled())
}

func TestLoopPost(t *testing.T) {
	skipRace(t)
	defer goleak.VerifyNone(t)
	loop, err := netpcb.NewLoop()
	require.NoError(t, err)
	defer loop.Close()

	ran := make(chan struct{})
	go func() {
		for loop.Post(func() { close(ran) }) != nil {
			time.Sleep(time.Millisecond)
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		select {
		case <-ran:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("posted function did not run")
		}
		loop.Yield(100 * time.Millisecond)
	}
}

func TestLoopPostDuringClose(t *testing.T) {
	skipRace(t)
	defer goleak.VerifyNone(t)
	loop, err := netpcb.NewLoop()
	require.NoError(t, err)

	posted := make(chan error, 1)
	go func() {
		for {
			err := loop.Post(func() {})
			if err == nil || iox.IsWouldBlock(err) {
				continue
			}
			posted <- err
			return
		}
	}()
	for i := 0; i < 20; i++ {
		loop.Yield(time.Millisecond)
	}
	require.NoError(t, loop.Close())
	require.Equal(t, netpcb.ErrLoopClosed, <-posted)
	require.Equal(t, netpcb.ErrLoopClosed, loop.Post(func() {}))
	require.NoError(t, loop.Close())
}
