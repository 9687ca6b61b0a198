// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"bytes"
	"io"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/kont"
)

// streamDispatcher is the structural interface for stream operations.
// DispatchStream is non-blocking and returns iox.ErrWouldBlock when the
// connection cannot make progress now; execStream blocks cooperatively.
type streamDispatcher interface {
	DispatchStream(c *Conn) (kont.Resumed, error)
	execStream(c *Conn) kont.Resumed
}

// Send is the effect operation for writing Data to the connection.
// Perform(Send{Data: p}) resumes with the number of bytes accepted.
type Send struct {
	kont.Phantom[int]
	Data []byte
}

// DispatchStream pushes as much of Data as the send window allows.
// Progress is kept in the connection's pending write, so a retried
// dispatch continues where the previous one stopped.
// Returns iox.ErrWouldBlock until every byte is accepted; in sync mode
// also until the peer acknowledged them, since the transport still
// reads from Data until then. ErrTimeout when acknowledgements stall
// past the flush wait.
func (s Send) DispatchStream(c *Conn) (kont.Resumed, error) {
	if !c.wr.active {
		if c.pcb == nil {
			return nil, ErrClosed
		}
		c.wr = pendingWrite{src: s.Data, active: true}
	}
	c.writeSome(&c.wr)
	n := c.wr.written
	if n == len(c.wr.src) {
		if c.sync {
			done, err := c.pollAcked(&c.wr)
			if err != nil {
				c.wr = pendingWrite{}
				return nil, err
			}
			if !done {
				return nil, iox.ErrWouldBlock
			}
		}
		c.wr = pendingWrite{}
		return n, nil
	}
	if c.State() == StateClosed {
		c.wr = pendingWrite{}
		return nil, ErrClosed
	}
	return nil, iox.ErrWouldBlock
}

func (s Send) execStream(c *Conn) kont.Resumed {
	n, _ := c.Write(s.Data)
	return n
}

// Recv is the effect operation for reading up to Max buffered bytes.
// Perform(Recv{Max: n}) resumes with a fresh slice; a nil slice means
// the peer closed and everything was read.
type Recv struct {
	kont.Phantom[[]byte]
	Max int
}

// DispatchStream reads whatever is buffered.
// Returns iox.ErrWouldBlock when nothing is buffered yet.
func (r Recv) DispatchStream(c *Conn) (kont.Resumed, error) {
	if c.Available() == 0 {
		if err := c.emptyErr(); err != io.EOF {
			return nil, err
		}
		return []byte(nil), nil
	}
	return r.read(c), nil
}

// execStream waits up to the connection timeout for data. On timeout it
// resumes with an empty, non-nil slice.
func (r Recv) execStream(c *Conn) kont.Resumed {
	if !c.WaitAvailable(c.timeout) {
		if c.emptyErr() == io.EOF {
			return []byte(nil)
		}
		return []byte{}
	}
	return r.read(c)
}

func (r Recv) read(c *Conn) []byte {
	p := make([]byte, max(0, min(r.Max, c.Available())))
	n, _ := c.Read(p)
	return p[:n]
}

// Close is the effect operation for closing the connection gracefully.
type Close struct {
	kont.Phantom[struct{}]
}

// DispatchStream closes the connection. Never blocks.
func (Close) DispatchStream(c *Conn) (kont.Resumed, error) {
	c.Close()
	return struct{}{}, nil
}

func (Close) execStream(c *Conn) kont.Resumed {
	c.Close()
	return struct{}{}
}

// RecvDelim is the effect operation for reading buffered bytes up to and
// including Delim, at most Max of them. It resumes like Recv: nil at the
// end of the stream, an empty non-nil slice when a blocking evaluation
// times out.
type RecvDelim struct {
	kont.Phantom[[]byte]
	Delim byte
	Max   int
}

// DispatchStream reads buffered bytes up to Delim.
// Returns iox.ErrWouldBlock when nothing is buffered yet.
func (r RecvDelim) DispatchStream(c *Conn) (kont.Resumed, error) {
	if c.Available() == 0 {
		if err := c.emptyErr(); err != io.EOF {
			return nil, err
		}
		return []byte(nil), nil
	}
	return r.read(c), nil
}

func (r RecvDelim) execStream(c *Conn) kont.Resumed {
	if !c.WaitAvailable(c.timeout) {
		if c.emptyErr() == io.EOF {
			return []byte(nil)
		}
		return []byte{}
	}
	return r.read(c)
}

func (r RecvDelim) read(c *Conn) []byte {
	p := make([]byte, max(0, min(r.Max, c.Available())))
	n := c.PeekBytes(p)
	if i := bytes.IndexByte(p[:n], r.Delim); i >= 0 {
		n = i + 1
	}
	n, _ = c.Read(p[:n])
	return p[:n]
}
