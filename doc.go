// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tcpsync exposes a blocking, buffered, timeout-bounded byte
// stream on top of a callback-driven, single-threaded TCP transport.
//
// The transport (see [PCB]) reports connection, receive, acknowledgement,
// error and poll events from an event loop the package does not own
// (see [Loop]). [Conn] turns those callbacks into Connect, Read, Peek and
// Write calls that behave correctly without a second goroutine.
//
// # Architecture
//
//   - Receive chain: segments handed over by the transport are queued
//     without copying and consumed in arrival order; each consumed byte is
//     acknowledged back with [PCB.Recved].
//   - Write engine: bytes are pushed in chunks bounded by the send window.
//     Transient memory pressure ([code.hybscloud.com/iox.ErrWouldBlock])
//     halves the chunk up to four times per round. Timeouts bound stalls,
//     not total transfer time.
//   - Cooperative wait: [Delay] yields to the loop until a pending flag is
//     cleared by a callback or the timeout elapses.
//   - Lifecycle: [Conn.Ref]/[Conn.Unref] share one connection between
//     [Stream] handles; the last release tears it down exactly once.
//
// # Threading
//
// Every method must run on the loop goroutine. Blocking calls re-enter the
// loop, so callbacks may fire on the same connection during a call; every
// wait re-checks that the transport handle is still alive afterwards.
//
// # Scripted protocols
//
// [Send], [Recv], [RecvDelim] and [Close] are [code.hybscloud.com/kont]
// effects. [Exec] evaluates them with blocking semantics; [Step] and
// [Advance] evaluate them one effect at a time for proactor loops.
//
// # Example
//
//	c := tcpsync.NewConn(pcb, loop, tcpsync.WithTimeout(2*time.Second))
//	s := tcpsync.NewStream(c)
//	defer s.Release()
//	if err := c.Connect(addr); err != nil {
//		return err
//	}
//	if _, err := s.Write([]byte("ping\n")); err != nil {
//		return err
//	}
package tcpsync
