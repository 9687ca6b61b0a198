// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
	"code.hybscloud.com/tcpsync"
)

func TestStepAdvanceEcho(t *testing.T) {
	loop, c, cpcb := newEchoPair()

	protocol := tcpsync.Reify(tcpsync.SendThen([]byte("hello\n"),
		tcpsync.RecvUntil('\n', 64, func(p []byte) kont.Eff[string] {
			return tcpsync.CloseDone(string(p))
		}),
	))
	got, err := stepExpr(t, loop, c, protocol)
	if err != nil {
		t.Fatalf("stepExpr: %v", err)
	}
	if got != "hello\n" {
		t.Fatalf("got %q, want %q", got, "hello\n")
	}
	if !cpcb.Freed() {
		t.Fatal("protocol did not close the connection")
	}
}

func TestStepInspectOperations(t *testing.T) {
	protocol := tcpsync.Reify(tcpsync.SendThen([]byte("x"), tcpsync.CloseDone(struct{}{})))

	_, susp := tcpsync.Step[struct{}](protocol)
	if susp == nil {
		t.Fatal("expected suspension for Send")
	}
	send, ok := susp.Op().(tcpsync.Send)
	if !ok {
		t.Fatalf("expected Send, got %T", susp.Op())
	}
	if string(send.Data) != "x" {
		t.Fatalf("Send.Data: got %q", send.Data)
	}
}

func TestStepComplete(t *testing.T) {
	result, susp := tcpsync.Step[int](kont.ExprReturn(7))
	if susp != nil || result != 7 {
		t.Fatalf("Step on pure protocol: got %d, %v", result, susp)
	}
}

// A send larger than the window keeps its progress across retries and
// blocks any other Write until it completes.
func TestAdvanceSendResumes(t *testing.T) {
	p := newPair()
	capacity := p.cpcb.SndBufCapacity()
	data := pattern(2*capacity + 10)

	_, susp := tcpsync.Step[int](kont.ExprPerform(tcpsync.Send{Data: data}))
	_, susp, err := tcpsync.Advance(p.client, susp)
	if !iox.IsWouldBlock(err) {
		t.Fatalf("first Advance: got %v, want ErrWouldBlock", err)
	}
	if _, err := p.client.Write([]byte("y")); !errors.Is(err, tcpsync.ErrWriteInProgress) {
		t.Fatalf("Write during pending Send: got %v, want ErrWriteInProgress", err)
	}

	var n int
	for susp != nil {
		n, susp, err = tcpsync.Advance(p.client, susp)
		if err != nil && !iox.IsWouldBlock(err) {
			t.Fatalf("Advance: %v", err)
		}
		if err != nil {
			p.loop.Yield(p.client.Timeout())
		}
	}
	if n != len(data) {
		t.Fatalf("Send resumed with %d, want %d", n, len(data))
	}
	if total := sum(p.cpcb.Writes()); total != len(data) {
		t.Fatalf("transport accepted %d bytes, want %d", total, len(data))
	}
}

// In sync mode the transport reads from Data until the peer acknowledged
// it, so Send must not resume before that.
func TestAdvanceSendSyncWaitsForAck(t *testing.T) {
	p := newPair(tcpsync.WithSync(true))
	data := pattern(2*p.cpcb.SndBufCapacity() + 10)

	n, err := stepExpr(t, p.loop, p.client, kont.ExprPerform(tcpsync.Send{Data: data}))
	if err != nil || n != len(data) {
		t.Fatalf("Send: got %d, %v", n, err)
	}
	if p.cpcb.AliasedBytes() != len(data) {
		t.Fatalf("sync mode copied: %d aliased bytes", p.cpcb.AliasedBytes())
	}
	if p.cpcb.SndBuf() != p.cpcb.SndBufCapacity() {
		t.Fatal("Send resumed before everything was acknowledged")
	}
	for i := range data {
		data[i] = 0
	}
	p.loop.Advance(10 * time.Millisecond)
	if got := readAll(p.server); !bytes.Equal(got, pattern(len(data))) {
		t.Fatal("server received different bytes")
	}
	if _, err := p.client.Write([]byte("y")); err != nil {
		t.Fatalf("Write after Send: %v", err)
	}
}

func TestAdvanceSendSyncAckTimeout(t *testing.T) {
	p := newPair(tcpsync.WithSync(true), tcpsync.WithFlushWait(50*time.Millisecond))
	p.cpcb.HoldAcks()

	_, err := stepExpr(t, p.loop, p.client, kont.ExprPerform(tcpsync.Send{Data: pattern(100)}))
	if !errors.Is(err, tcpsync.ErrTimeout) {
		t.Fatalf("Send: got %v, want ErrTimeout", err)
	}
	p.cpcb.ReleaseAcks()
	if _, err := p.client.Write([]byte("y")); err != nil {
		t.Fatalf("Write after timed out Send: %v", err)
	}
}

func TestAdvanceRecvWouldBlock(t *testing.T) {
	p := newPair()
	_, susp := tcpsync.Step[[]byte](kont.ExprPerform(tcpsync.Recv{Max: 4}))

	_, same, err := tcpsync.Advance(p.client, susp)
	if !iox.IsWouldBlock(err) || same != susp {
		t.Fatalf("Advance on empty buffer: got %v", err)
	}

	p.server.Write([]byte("data"))
	p.loop.Yield(p.client.Timeout())
	p.loop.Yield(p.client.Timeout())
	got, next, err := tcpsync.Advance(p.client, susp)
	if err != nil || next != nil || string(got) != "data" {
		t.Fatalf("Advance: got %q, %v, %v", got, next, err)
	}
}

func TestAdvanceSendClosed(t *testing.T) {
	p := newPair()
	p.client.Abort()
	_, susp := tcpsync.Step[int](kont.ExprPerform(tcpsync.Send{Data: []byte("x")}))

	if _, _, err := tcpsync.Advance(p.client, susp); !errors.Is(err, tcpsync.ErrClosed) {
		t.Fatalf("Advance: got %v, want ErrClosed", err)
	}
}

func TestAdvanceRecvDelimEOF(t *testing.T) {
	p := newPair()
	p.client.Abort()
	_, susp := tcpsync.Step[[]byte](kont.ExprPerform(tcpsync.RecvDelim{Delim: '\n', Max: 8}))

	got, next, err := tcpsync.Advance(p.client, susp)
	if err != nil || next != nil || got != nil {
		t.Fatalf("Advance: got %v, %v, %v", got, next, err)
	}
}

func TestAdvanceUnhandledPanics(t *testing.T) {
	type bogus struct{ kont.Phantom[int] }

	_, susp := tcpsync.Step[int](kont.ExprPerform(bogus{}))
	if susp == nil {
		t.Fatal("expected suspension")
	}

	p := newPair()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for unhandled effect")
		}
		msg, ok := r.(string)
		if !ok || msg != "tcpsync: unhandled effect in Advance" {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	tcpsync.Advance(p.client, susp)
}

func TestAdvanceAffine(t *testing.T) {
	p := newPair()
	_, susp := tcpsync.Step[string](tcpsync.Reify(tcpsync.CloseDone("done")))
	if susp == nil {
		t.Fatal("expected suspension")
	}
	if _, _, err := tcpsync.Advance(p.client, susp); err != nil {
		t.Fatalf("first Advance: %v", err)
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on double resume")
		}
		msg, ok := r.(string)
		if !ok || msg != "kont: suspension resumed twice" {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	tcpsync.Advance(p.client, susp)
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
