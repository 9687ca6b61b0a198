// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package simnet

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// postCapacity bounds the functions posted from outside the loop and
// not yet run.
const postCapacity = 64

// Loop is a single-goroutine event loop on a virtual clock. Time only
// moves inside Yield and Run, so every test is deterministic.
//
// Loop implements tcpsync.Loop.
type Loop struct {
	// guard is the adapter-facing lock. The scheduler has its own mutex so
	// transport methods called under Lock may still schedule events.
	guard  sync.Mutex
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	events eventHeap
	posted lfq.SPSC[func()]
}

type event struct {
	at  time.Time
	seq uint64
	fn  func()
}

type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// NewLoop creates a loop whose clock starts at start.
func NewLoop(start time.Time) *Loop {
	l := &Loop{now: start}
	l.posted.Init(postCapacity)
	return l
}

// Lock excludes event dispatch from other goroutines.
func (l *Loop) Lock() { l.guard.Lock() }

// Unlock releases Lock.
func (l *Loop) Unlock() { l.guard.Unlock() }

// Now returns the virtual clock.
func (l *Loop) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// After schedules fn to run on the loop d from now.
func (l *Loop) After(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	heap.Push(&l.events, event{at: l.now.Add(d), seq: l.seq, fn: fn})
}

// Post hands fn to the loop from one producer goroutine.
// Returns iox.ErrWouldBlock when the hand-off queue is full.
func (l *Loop) Post(fn func()) error {
	return l.posted.Enqueue(&fn)
}

// Pending returns the number of scheduled events.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Yield runs posted functions and due events. When nothing is due it
// advances the clock to the next event, but never past max from now.
func (l *Loop) Yield(max time.Duration) {
	if l.runReady() > 0 {
		return
	}
	l.mu.Lock()
	deadline := l.now.Add(max)
	if len(l.events) > 0 && !l.events[0].at.After(deadline) {
		l.now = l.events[0].at
	} else {
		l.now = deadline
	}
	l.mu.Unlock()
	l.runReady()
}

// Advance yields until the clock moved forward by d.
func (l *Loop) Advance(d time.Duration) {
	end := l.Now().Add(d)
	for {
		now := l.Now()
		if !now.Before(end) {
			l.runReady()
			return
		}
		l.Yield(end.Sub(now))
	}
}

// Drain runs events until none is left or limit events ran.
func (l *Loop) Drain(limit int) int {
	ran := 0
	for ran < limit {
		l.mu.Lock()
		if len(l.events) == 0 {
			l.mu.Unlock()
			return ran
		}
		if l.events[0].at.After(l.now) {
			l.now = l.events[0].at
		}
		l.mu.Unlock()
		ran += l.runReady()
	}
	return ran
}

// Run drives the loop until ctx is done, jumping the clock from event to
// event and backing off when nothing is scheduled.
func (l *Loop) Run(ctx context.Context) error {
	var bo iox.Backoff
	for ctx.Err() == nil {
		if l.runReady() > 0 {
			bo.Reset()
			continue
		}
		l.mu.Lock()
		if len(l.events) > 0 {
			l.now = l.events[0].at
			l.mu.Unlock()
			bo.Reset()
			continue
		}
		l.mu.Unlock()
		bo.Wait()
	}
	return ctx.Err()
}

// runReady runs posted functions, then every event due now, including
// events those callbacks schedule for the current instant.
func (l *Loop) runReady() int {
	ran := 0
	for {
		fn, err := l.posted.Dequeue()
		if err != nil {
			break
		}
		fn()
		ran++
	}
	for {
		l.guard.Lock()
		l.mu.Lock()
		if len(l.events) == 0 || l.events[0].at.After(l.now) {
			l.mu.Unlock()
			l.guard.Unlock()
			return ran
		}
		e := heap.Pop(&l.events).(event)
		l.mu.Unlock()
		l.guard.Unlock()
		e.fn()
		ran++
	}
}
