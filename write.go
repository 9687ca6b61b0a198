// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"io"
	"time"

	"code.hybscloud.com/iox"
	"github.com/valyala/bytebufferpool"
)

// maxChunkScale bounds how many times a chunk is halved after the
// transport runs short of memory, per round.
const maxChunkScale = 4

// AvailableForWrite returns how many bytes the transport accepts right now.
func (c *Conn) AvailableForWrite() int {
	if c.State() != StateEstablished {
		return 0
	}
	c.loop.Lock()
	defer c.loop.Unlock()
	return c.pcb.SndBuf()
}

// Write blocks until all of p is accepted by the transport, the
// connection closes, or no progress was made for the configured timeout.
// The timeout bounds stalls, not the whole transfer.
//
// In sync mode Write additionally waits until the peer acknowledged
// everything, bounded by the flush wait.
func (c *Conn) Write(p []byte) (int, error) {
	return c.write(p, false)
}

// write is Write with copying forced on when the caller reuses p right
// after the call returns, whatever the mode.
func (c *Conn) write(p []byte, mustCopy bool) (int, error) {
	if c.pcb == nil {
		return 0, ErrClosed
	}
	if c.wr.active {
		return 0, ErrWriteInProgress
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.writeFromSource(p, mustCopy)
	if c.sync {
		c.WaitUntilAcked(c.flushWait)
	}
	return n, err
}

// WriteString writes s. The bytes are copied before they reach the
// transport unless the connection is in sync mode.
func (c *Conn) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// ReadFrom writes everything r yields, staging it in a pooled buffer of
// at most the transport send capacity. Staged chunks are always copied by
// the transport because the buffer is refilled right away.
func (c *Conn) ReadFrom(r io.Reader) (int64, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	size := c.stageSize()
	if cap(bb.B) < size {
		bb.B = make([]byte, size)
	}
	buf := bb.B[:size]

	var sent int64
	for {
		nr, rerr := r.Read(buf)
		if nr > 0 {
			nw, werr := c.write(buf[:nr], true)
			sent += int64(nw)
			if werr != nil {
				return sent, werr
			}
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			if iox.IsWouldBlock(rerr) {
				return sent, nil
			}
			return sent, rerr
		}
		if nr == 0 {
			return sent, nil
		}
	}
}

func (c *Conn) stageSize() int {
	size := 1460
	if c.pcb != nil {
		if n := c.pcb.SndBufCapacity(); n > 0 {
			size = n
		}
	}
	return size
}

func (c *Conn) writeFromSource(p []byte, mustCopy bool) (int, error) {
	c.wr = pendingWrite{src: p, active: true, copy: mustCopy}
	defer func() { c.wr = pendingWrite{} }()
	c.opStart = c.loop.Now()
	for {
		if c.writeSome(&c.wr) {
			c.opStart = c.loop.Now()
		}
		if c.wr.written == len(c.wr.src) {
			return c.wr.written, nil
		}
		if c.isTimeout() {
			c.tracef("write timeout %d/%d", c.wr.written, len(c.wr.src))
			return c.wr.written, ErrTimeout
		}
		if c.State() == StateClosed {
			if c.err != nil {
				return c.wr.written, c.err
			}
			return c.wr.written, ErrClosed
		}
		c.sendWaiting = true
		c.delay(func() bool { return c.sendWaiting })
		c.sendWaiting = false
	}
}

// writeSome pushes as much of the pending write as the send window
// allows. It halves the chunk after a transient memory shortage and
// flushes the transport if anything was accepted.
func (c *Conn) writeSome(w *pendingWrite) bool {
	if !w.active || c.pcb == nil {
		return false
	}
	c.tracef("write %d, %d done", len(w.src)-w.written, w.written)

	wrote := false
	scale := 0
	for w.written < len(w.src) {
		if c.State() == StateClosed {
			return false
		}
		remaining := len(w.src) - w.written
		c.loop.Lock()
		chunk := min(c.pcb.SndBuf(), remaining)
		c.loop.Unlock()
		if chunk > 1<<scale {
			chunk >>= scale
		}
		if chunk <= 0 {
			break
		}

		var flags WriteFlags
		if chunk < remaining {
			flags |= WriteFlagMore
		}
		if !c.sync || w.copy {
			flags |= WriteFlagCopy
		}
		c.loop.Lock()
		err := c.pcb.Write(w.src[w.written:w.written+chunk], flags)
		c.loop.Unlock()
		c.tracef("write chunk %d of %d: %v", chunk, remaining, err)

		if err == nil {
			w.written += chunk
			wrote = true
			continue
		}
		if iox.IsWouldBlock(err) && scale < maxChunkScale {
			scale++
			continue
		}
		break
	}

	if wrote {
		c.loop.Lock()
		c.pcb.Output()
		c.loop.Unlock()
	}
	return wrote
}

// resumeWrite wakes a write waiting for send window.
func (c *Conn) resumeWrite() {
	c.sendWaiting = false
}

// pollAcked is one non-blocking step of WaitUntilAcked for a write whose
// bytes were all accepted. It reports true once the peer acknowledged
// everything or the connection can no longer send, and ErrTimeout when
// acknowledgements stalled for longer than the flush wait.
func (c *Conn) pollAcked(w *pendingWrite) (bool, error) {
	if c.pcb == nil {
		return true, nil
	}
	c.loop.Lock()
	c.pcb.Output()
	sndbuf := c.pcb.SndBuf()
	full := c.pcb.SndBufCapacity()
	c.loop.Unlock()
	now := c.loop.Now()
	if !w.flushing || sndbuf != w.sndbuf {
		w.flushing = true
		w.sndbuf = sndbuf
		w.ackStart = now
	}
	if c.State() != StateEstablished || sndbuf == full {
		return true, nil
	}
	if now.Sub(w.ackStart) > c.flushWait {
		c.tracef("flush timeout")
		return false, ErrTimeout
	}
	return false, nil
}

// WaitUntilAcked flushes the transport and yields until the peer
// acknowledged every sent byte, the peer closed, or maxWait passed
// without any acknowledgement progress. Returns false on timeout.
func (c *Conn) WaitUntilAcked(maxWait time.Duration) bool {
	if c.pcb == nil {
		return true
	}
	prev := -1
	lastSent := c.loop.Now()
	for {
		if c.loop.Now().Sub(lastSent) > maxWait {
			c.tracef("flush timeout")
			return false
		}
		if c.pcb == nil {
			return true
		}
		c.loop.Lock()
		c.pcb.Output()
		sndbuf := c.pcb.SndBuf()
		full := c.pcb.SndBufCapacity()
		c.loop.Unlock()
		if sndbuf != prev {
			prev = sndbuf
			lastSent = c.loop.Now()
		}
		if c.State() != StateEstablished || sndbuf == full {
			return true
		}
		c.loop.Yield(c.pollInterval)
	}
}
