// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netpcb drives real TCP sockets as callback-driven transport
// handles for [code.hybscloud.com/tcpsync], on Linux.
//
// A [Loop] multiplexes non-blocking sockets with poll(2) on whichever
// goroutine calls Yield or Run. Each [PCB] stages accepted bytes in a
// pooled buffer, reports received data through Handler.Recv, and treats
// bytes the kernel no longer holds in its send queue as acknowledged.
//
//	loop, _ := netpcb.NewLoop()
//	defer loop.Close()
//	c := tcpsync.NewConn(netpcb.NewPCB(loop), loop)
//	if err := c.Connect(addr); err != nil {
//		return err
//	}
package netpcb
