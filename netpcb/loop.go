// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package netpcb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
	"golang.org/x/sys/unix"
)

const (
	// PollInterval is the period of the poll callback.
	PollInterval = 500 * time.Millisecond
	// ackCheckInterval bounds how long the loop sleeps while sent bytes
	// are still unacknowledged.
	ackCheckInterval = time.Millisecond
	postCapacity     = 64
)

// ErrLoopClosed is returned by Post after Close.
var ErrLoopClosed = errors.New("netpcb: loop closed")

// Loop drives non-blocking sockets with poll(2) on the goroutine that
// calls Yield or Run. It implements tcpsync.Loop.
type Loop struct {
	mu       sync.Mutex
	wake     sync.Mutex // orders Post's eventfd write before Close
	pcbs     map[int]*PCB
	lns      map[int]*Listener
	posted   lfq.SPSC[func()]
	efd      int
	closed   atomix.Uint32
	nextTick time.Time
	pfds     []unix.PollFd
}

// NewLoop creates a loop with its wake-up eventfd.
func NewLoop() (*Loop, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	l := &Loop{
		pcbs:     make(map[int]*PCB),
		lns:      make(map[int]*Listener),
		efd:      efd,
		nextTick: time.Now().Add(PollInterval),
	}
	l.posted.Init(postCapacity)
	return l, nil
}

// Lock excludes the periodic ack and poll processing.
func (l *Loop) Lock() { l.mu.Lock() }

// Unlock releases Lock.
func (l *Loop) Unlock() { l.mu.Unlock() }

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// Post hands fn to the loop from one producer goroutine and wakes the
// loop if it is sleeping in poll. Returns iox.ErrWouldBlock when full.
func (l *Loop) Post(fn func()) error {
	l.wake.Lock()
	defer l.wake.Unlock()
	if l.closed.Load() != 0 {
		return ErrLoopClosed
	}
	if err := l.posted.Enqueue(&fn); err != nil {
		return err
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	unix.Write(l.efd, one[:])
	return nil
}

// Run yields until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		l.Yield(50 * time.Millisecond)
	}
	return ctx.Err()
}

// Close aborts every registered connection, closes listeners and the
// wake-up descriptor.
func (l *Loop) Close() error {
	if l.closed.Add(1) != 1 {
		return nil
	}
	for _, p := range l.snapshot() {
		p.Abort()
	}
	for _, ln := range l.lns {
		ln.Close()
	}
	l.wake.Lock()
	defer l.wake.Unlock()
	err := unix.Close(l.efd)
	l.efd = -1
	return err
}

func (l *Loop) register(p *PCB) {
	l.pcbs[p.fd] = p
}

func (l *Loop) unregister(fd int) {
	delete(l.pcbs, fd)
}

func (l *Loop) snapshot() []*PCB {
	ps := make([]*PCB, 0, len(l.pcbs))
	for _, p := range l.pcbs {
		ps = append(ps, p)
	}
	return ps
}

// Yield polls every registered socket for at most max, dispatches
// readiness, posted functions, acknowledgements and poll ticks.
func (l *Loop) Yield(max time.Duration) {
	pcbs := l.snapshot()
	lns := make([]*Listener, 0, len(l.lns))
	for _, ln := range l.lns {
		lns = append(lns, ln)
	}

	l.pfds = l.pfds[:0]
	l.pfds = append(l.pfds, unix.PollFd{Fd: int32(l.efd), Events: unix.POLLIN})
	wait := max
	for _, p := range pcbs {
		l.pfds = append(l.pfds, unix.PollFd{Fd: int32(p.fd), Events: p.interest()})
		if p.inKernel > 0 && wait > ackCheckInterval {
			wait = ackCheckInterval
		}
	}
	for _, ln := range lns {
		l.pfds = append(l.pfds, unix.PollFd{Fd: int32(ln.fd), Events: unix.POLLIN})
	}
	if untilTick := time.Until(l.nextTick); untilTick < wait {
		wait = max0(untilTick)
	}

	n, err := unix.Poll(l.pfds, int((wait+time.Millisecond-1)/time.Millisecond))
	if err != nil && !errors.Is(err, unix.EINTR) {
		n = 0
	}

	if n > 0 && l.pfds[0].Revents&unix.POLLIN != 0 {
		var buf [8]byte
		unix.Read(l.efd, buf[:])
	}
	l.runPosted()

	if n > 0 {
		for i, p := range pcbs {
			if re := l.pfds[1+i].Revents; re != 0 {
				p.ready(re)
			}
		}
		for i, ln := range lns {
			if l.pfds[1+len(pcbs)+i].Revents&unix.POLLIN != 0 {
				ln.acceptPending()
			}
		}
	}

	for _, p := range pcbs {
		p.checkAcked()
	}

	if !time.Now().Before(l.nextTick) {
		l.nextTick = time.Now().Add(PollInterval)
		for _, p := range pcbs {
			p.tick()
		}
	}
}

func (l *Loop) runPosted() {
	for {
		fn, err := l.posted.Dequeue()
		if err != nil {
			return
		}
		fn()
	}
}

func max0(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
