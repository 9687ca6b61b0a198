// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tcpsync

import (
	"io"
)

// Stream is one handle on a shared Conn. Every Stream holds a reference;
// the Conn is torn down when the last Stream is released.
type Stream struct {
	c *Conn
}

// NewStream returns a handle holding a new reference on c.
func NewStream(c *Conn) *Stream {
	c.Ref()
	return &Stream{c: c}
}

// Clone returns another handle on the same Conn.
func (s *Stream) Clone() *Stream {
	if s.c == nil {
		return &Stream{}
	}
	return NewStream(s.c)
}

// Conn returns the underlying connection, or nil after Release.
func (s *Stream) Conn() *Conn {
	return s.c
}

// Release drops this handle's reference. Further calls are no-ops.
func (s *Stream) Release() {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	c.Unref()
}

// Close closes the connection gracefully and releases the handle.
func (s *Stream) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.Release()
	return err
}

// Read consumes buffered bytes without blocking, see Conn.Read.
// Returns io.EOF after Release.
func (s *Stream) Read(p []byte) (int, error) {
	if s.c == nil {
		return 0, io.EOF
	}
	return s.c.Read(p)
}

// ReadByte consumes one buffered byte.
func (s *Stream) ReadByte() (byte, error) {
	if s.c == nil {
		return 0, io.EOF
	}
	return s.c.ReadByte()
}

// Write blocks until p is accepted, see Conn.Write.
// Returns ErrClosed after Release.
func (s *Stream) Write(p []byte) (int, error) {
	if s.c == nil {
		return 0, ErrClosed
	}
	return s.c.Write(p)
}

// WriteString writes str.
func (s *Stream) WriteString(str string) (int, error) {
	if s.c == nil {
		return 0, ErrClosed
	}
	return s.c.WriteString(str)
}

// ReadFrom writes everything r yields, see Conn.ReadFrom.
func (s *Stream) ReadFrom(r io.Reader) (int64, error) {
	if s.c == nil {
		return 0, ErrClosed
	}
	return s.c.ReadFrom(r)
}

// Available returns the number of buffered bytes.
func (s *Stream) Available() int {
	if s.c == nil {
		return 0
	}
	return s.c.Available()
}

// State returns the connection state, StateClosed after Release.
func (s *Stream) State() State {
	if s.c == nil {
		return StateClosed
	}
	return s.c.State()
}

var (
	_ io.ReadWriteCloser = (*Stream)(nil)
	_ io.ByteReader      = (*Stream)(nil)
	_ io.ReaderFrom      = (*Stream)(nil)
	_ io.StringWriter    = (*Stream)(nil)
)
