// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"github.com/eapache/queue"
)

// rxChain holds received segments not yet consumed, oldest first.
// Segments are owned by the chain and never modified; only the head
// carries a consumption offset.
type rxChain struct {
	segs  *queue.Queue
	off   int
	total int
}

func newRxChain() rxChain {
	return rxChain{segs: queue.New()}
}

// size is the number of unconsumed bytes across the chain.
func (r *rxChain) size() int {
	return r.total - r.off
}

func (r *rxChain) empty() bool {
	return r.segs.Length() == 0
}

func (r *rxChain) append(p []byte) {
	r.segs.Add(p)
	r.total += len(p)
}

// head returns the unconsumed part of the oldest segment.
func (r *rxChain) head() []byte {
	if r.segs.Length() == 0 {
		return nil
	}
	return r.segs.Peek().([]byte)[r.off:]
}

// consume advances past n bytes of the head segment, n <= len(head()).
// A drained head is released; releasing the last one resets the chain.
func (r *rxChain) consume(n int) {
	seg := r.segs.Peek().([]byte)
	if left := len(seg) - r.off - n; left > 0 {
		r.off += n
		return
	}
	r.segs.Remove()
	r.total -= len(seg)
	r.off = 0
}

// peek copies up to len(dst) bytes starting at the head without consuming.
func (r *rxChain) peek(dst []byte) int {
	n := 0
	off := r.off
	for i := 0; i < r.segs.Length() && n < len(dst); i++ {
		seg := r.segs.Get(i).([]byte)
		n += copy(dst[n:], seg[off:])
		off = 0
	}
	return n
}

// reset drops every segment and returns how many bytes were unconsumed.
func (r *rxChain) reset() int {
	n := r.size()
	for r.segs.Length() > 0 {
		r.segs.Remove()
	}
	r.total = 0
	r.off = 0
	return n
}
