// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync_test

import (
	"testing"
	"time"

	"code.hybscloud.com/kont"
	"code.hybscloud.com/tcpsync"
)

func TestExecEcho(t *testing.T) {
	_, c, cpcb := newEchoPair()

	protocol := tcpsync.SendThen([]byte("ping\n"),
		tcpsync.RecvUntil('\n', 64, func(p []byte) kont.Eff[string] {
			return tcpsync.CloseDone(string(p))
		}),
	)
	if got := tcpsync.Exec(c, protocol); got != "ping\n" {
		t.Fatalf("Exec: got %q, want %q", got, "ping\n")
	}
	if !cpcb.Freed() {
		t.Fatal("CloseDone did not close the connection")
	}
}

func TestExecRecvBind(t *testing.T) {
	_, c, _ := newEchoPair()

	protocol := tcpsync.SendThen([]byte("abc"),
		tcpsync.RecvBind(2, func(p []byte) kont.Eff[string] {
			return tcpsync.RecvBind(8, func(q []byte) kont.Eff[string] {
				return tcpsync.CloseDone(string(p) + "|" + string(q))
			})
		}),
	)
	if got := tcpsync.Exec(c, protocol); got != "ab|c" {
		t.Fatalf("Exec: got %q, want %q", got, "ab|c")
	}
}

func TestExecRecvTimeout(t *testing.T) {
	p := newPair()
	p.client.SetTimeout(0)

	got := tcpsync.Exec(p.client, tcpsync.RecvBind(8, func(b []byte) kont.Eff[[]byte] {
		return kont.Pure(b)
	}))
	if got == nil || len(got) != 0 {
		t.Fatalf("Recv on timeout: got %v, want empty non-nil", got)
	}
}

func TestExecRecvEOF(t *testing.T) {
	p := newPair()
	p.client.Abort()

	got := tcpsync.Exec(p.client, tcpsync.RecvBind(8, func(b []byte) kont.Eff[bool] {
		return kont.Pure(b == nil)
	}))
	if !got {
		t.Fatal("Recv after close did not resume with nil")
	}
}

func TestRecvUntilKeepsRemainder(t *testing.T) {
	p := newPair()
	p.server.Write([]byte("one\ntwo\n"))

	first := tcpsync.Exec(p.client, tcpsync.RecvUntil('\n', 64, func(b []byte) kont.Eff[string] {
		return kont.Pure(string(b))
	}))
	if first != "one\n" {
		t.Fatalf("first line: got %q", first)
	}
	if got := string(readAll(p.client)); got != "two\n" {
		t.Fatalf("remainder: got %q", got)
	}
}

func TestRecvUntilLimit(t *testing.T) {
	p := newPair()
	p.server.Write([]byte("abcdefgh"))

	got := tcpsync.Exec(p.client, tcpsync.RecvUntil('\n', 5, func(b []byte) kont.Eff[string] {
		return kont.Pure(string(b))
	}))
	if got != "abcde" {
		t.Fatalf("RecvUntil: got %q, want %q", got, "abcde")
	}
	if p.client.Available() != 3 {
		t.Fatalf("Available: got %d, want 3", p.client.Available())
	}
}

// A stalled line keeps the connection usable and is told apart from the
// end of the stream.
func TestRecvUntilTimeout(t *testing.T) {
	p := newPair()
	p.server.Write([]byte("ab"))
	p.loop.Advance(5 * time.Millisecond)
	p.client.SetTimeout(0)

	partial := tcpsync.Exec(p.client, tcpsync.RecvUntil('\n', 64, func(b []byte) kont.Eff[[]byte] {
		return kont.Pure(b)
	}))
	if string(partial) != "ab" {
		t.Fatalf("partial line: got %q, want %q", partial, "ab")
	}
	if p.client.State() != tcpsync.StateEstablished {
		t.Fatalf("state after stall: got %v", p.client.State())
	}

	empty := tcpsync.Exec(p.client, tcpsync.RecvUntil('\n', 64, func(b []byte) kont.Eff[[]byte] {
		return kont.Pure(b)
	}))
	if empty == nil || len(empty) != 0 {
		t.Fatalf("stall with nothing read: got %v, want empty non-nil", empty)
	}

	p.client.Abort()
	eof := tcpsync.Exec(p.client, tcpsync.RecvUntil('\n', 64, func(b []byte) kont.Eff[[]byte] {
		return kont.Pure(b)
	}))
	if eof != nil {
		t.Fatalf("after close: got %v, want nil", eof)
	}
}

func TestExecExpr(t *testing.T) {
	_, c, _ := newEchoPair()

	protocol := tcpsync.Reify(tcpsync.SendThen([]byte("x"),
		tcpsync.RecvBind(1, func(p []byte) kont.Eff[string] {
			return tcpsync.CloseDone(string(p))
		}),
	))
	if got := tcpsync.ExecExpr(c, protocol); got != "x" {
		t.Fatalf("ExecExpr: got %q", got)
	}
}

func TestReflectRoundTrip(t *testing.T) {
	_, c, _ := newEchoPair()

	eff := tcpsync.SendThen([]byte("rt"), tcpsync.RecvBind(2, func(p []byte) kont.Eff[string] {
		return tcpsync.CloseDone(string(p))
	}))
	back := tcpsync.Reflect(tcpsync.Reify(eff))
	if got := tcpsync.Exec(c, back); got != "rt" {
		t.Fatalf("Exec: got %q", got)
	}
}

func TestDispatchUnhandledPanics(t *testing.T) {
	type bogus struct{ kont.Phantom[int] }
	p := newPair()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for unhandled effect")
		}
		msg, ok := r.(string)
		if !ok || msg != "tcpsync: unhandled effect in streamHandler" {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	tcpsync.Exec(p.client, kont.Perform(bogus{}))
}
