// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/tcpsync"
	"code.hybscloud.com/tcpsync/internal/log"
	"code.hybscloud.com/tcpsync/netpcb"
	"github.com/eapache/queue"
	"github.com/muesli/cancelreader"
)

const (
	inputChunk    = 4096
	yieldInterval = 20 * time.Millisecond
)

// session copies input to one connection and the connection to output.
// Everything except the input pump runs on the goroutine calling serve.
type session struct {
	cfg    *config
	loop   *netpcb.Loop
	conn   *tcpsync.Conn
	stream *tcpsync.Stream
	out    io.Writer

	// pending holds input chunks posted by the pump, oldest first.
	pending   *queue.Queue
	inputDone bool
}

func run(ctx context.Context, cfg *config, in io.Reader, out io.Writer) error {
	addr, err := cfg.resolve(ctx)
	if err != nil {
		return err
	}

	loop, err := netpcb.NewLoop()
	if err != nil {
		return err
	}
	defer loop.Close()

	conn := tcpsync.NewConn(netpcb.NewPCB(loop), loop, cfg.options(log.Tracer(cfg.Verbose))...)
	s := &session{
		cfg:     cfg,
		loop:    loop,
		conn:    conn,
		stream:  tcpsync.NewStream(conn),
		out:     out,
		pending: queue.New(),
	}

	conn.SetNoDelay(cfg.NoDelay)
	if cfg.KeepAlive > 0 {
		ka := tcpsync.DefaultKeepAlive
		conn.SetKeepAlive(cfg.KeepAlive, min(ka.Interval, cfg.KeepAlive), ka.Count)
	}

	if err := conn.Connect(addr); err != nil {
		s.stream.Release()
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	log.InfoMsg("Connected to %s from %s\n", conn.RemoteAddr(), conn.LocalAddr())

	// Blocked reads on a terminal or pipe can be canceled; other inputs
	// are read as they are.
	input, cancel := in, func() {}
	if cr, err := cancelreader.NewReader(in); err == nil {
		input, cancel = cr, func() { cr.Cancel() }
	}
	pumped := make(chan struct{})
	go s.pump(input, pumped)
	defer func() {
		s.stream.Release()
		cancel()
		loop.Close()
		<-pumped
	}()

	return s.serve(ctx)
}

// pump reads input on its own goroutine and hands every chunk to the loop.
func (s *session) pump(r io.Reader, done chan<- struct{}) {
	defer close(done)
	var bo iox.Backoff
	buf := make([]byte, inputChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !s.post(func() { s.pending.Add(chunk) }, &bo) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, cancelreader.ErrCanceled) {
				log.ErrorMsg("reading input: %s\n", err)
			}
			s.post(func() { s.inputDone = true }, &bo)
			return
		}
	}
}

// post retries while the loop's hand-off queue is full. It reports false
// once the loop is gone.
func (s *session) post(fn func(), bo *iox.Backoff) bool {
	for {
		err := s.loop.Post(fn)
		if err == nil {
			bo.Reset()
			return true
		}
		if !iox.IsWouldBlock(err) {
			return false
		}
		bo.Wait()
	}
}

// serve runs the loop until the peer closes, the input ends with
// QuitOnEOF set, or ctx is done.
func (s *session) serve(ctx context.Context) error {
	for ctx.Err() == nil {
		s.loop.Yield(yieldInterval)

		if err := s.drain(); err != nil {
			return err
		}
		if s.conn.State() == tcpsync.StateClosed && s.conn.Available() == 0 {
			if err := s.conn.Err(); err != nil {
				return fmt.Errorf("connection: %w", err)
			}
			log.InfoMsg("Connection closed by peer\n")
			return nil
		}

		for s.pending.Length() > 0 {
			chunk := s.pending.Remove().([]byte)
			if _, err := s.stream.Write(chunk); err != nil {
				return fmt.Errorf("writing: %w", err)
			}
		}
		if s.inputDone && s.cfg.QuitOnEOF && s.pending.Length() == 0 {
			if !s.conn.WaitUntilAcked(tcpsync.DefaultFlushWait) {
				log.ErrorMsg("unacknowledged data at close\n")
			}
			return s.stream.Close()
		}
	}
	return nil
}

// drain writes every received byte to the output without copying it out
// of the receive chain first.
func (s *session) drain() error {
	for s.conn.PeekAvailable() > 0 {
		n, err := s.out.Write(s.conn.PeekBuffer())
		s.conn.PeekConsume(n)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	return nil
}
