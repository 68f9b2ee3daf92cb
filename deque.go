package corewake

import (
	"sync/atomic"
)

// localDeque is a worker's local run queue: a growable circular buffer
// implementing the Chase-Lev work-stealing deque. Per spec §3 and §4.2:
// only the owning worker pushes and pops the "owner" (bottom/LIFO) end;
// any number of sibling workers may concurrently pop from the "stealer"
// (top/FIFO) end using CAS, contending only with the owner and with each
// other, never needing a lock.
//
// The teacher's own multi-producer ingress (eventloop/ingress.go,
// ChunkedIngress) deliberately chose a mutex over lock-free CAS, with a
// design comment explaining that mutexes win under contention when many
// producers compete for one queue. That reasoning does not transfer here:
// a local deque has exactly one producer (its owner) and steals are
// comparatively rare, so the CAS-based Chase-Lev design spec §3 mandates
// ("thieves use atomic CAS on the stealer end") is both required and the
// right tool. The multi-producer overflow queue in globalqueue.go is where
// this module reuses the teacher's mutex+chunk approach instead.
type localDeque struct {
	// bottom and top index into buf.Load(), mod its length. Only the owner
	// writes bottom; top is advanced by whichever stealer (or the owner,
	// during popBottom on a near-empty deque) wins the CAS.
	bottom atomic.Int64
	top    atomic.Int64
	buf    atomic.Pointer[deqBuffer]
}

type deqBuffer struct {
	mask  int64
	tasks []*task
}

func newDeqBuffer(capacity int64) *deqBuffer {
	if capacity < 8 {
		capacity = 8
	}
	return &deqBuffer{mask: capacity - 1, tasks: make([]*task, capacity)}
}

func (b *deqBuffer) get(i int64) *task       { return b.tasks[i&b.mask] }
func (b *deqBuffer) put(i int64, t *task)    { b.tasks[i&b.mask] = t }
func (b *deqBuffer) size() int64             { return b.mask + 1 }

func newLocalDeque() *localDeque {
	d := &localDeque{}
	d.buf.Store(newDeqBuffer(256))
	return d
}

// grow reallocates buf to double its capacity, copying live entries
// [top,bottom). Only ever called by the owner from pushBottom.
func (d *localDeque) grow(b *deqBuffer, bottom, top int64) *deqBuffer {
	nb := newDeqBuffer(b.size() * 2)
	for i := top; i < bottom; i++ {
		nb.put(i, b.get(i))
	}
	d.buf.Store(nb)
	return nb
}

// PushBottom adds t to the owner end. Must only be called by the deque's
// owning worker.
func (d *localDeque) PushBottom(t *task) {
	bottom := d.bottom.Load()
	top := d.top.Load()
	buf := d.buf.Load()

	if size := buf.size(); bottom-top >= size-1 {
		buf = d.grow(buf, bottom, top)
	}

	buf.put(bottom, t)
	// Release: the stored task must be visible to any stealer that
	// observes the incremented bottom below.
	d.bottom.Store(bottom + 1)
}

// PopBottom removes and returns the most recently pushed task (LIFO),
// giving the owner the cache-hot entry per spec §4.2. Must only be called
// by the deque's owning worker.
func (d *localDeque) PopBottom() (*task, bool) {
	bottom := d.bottom.Load()
	buf := d.buf.Load()
	bottom--
	d.bottom.Store(bottom)
	top := d.top.Load()

	if top > bottom {
		// Deque was empty (or became empty); restore bottom and bail.
		d.bottom.Store(top)
		return nil, false
	}

	t := buf.get(bottom)
	if top == bottom {
		// Last element: racing with stealers for it via CAS on top.
		if !d.top.CompareAndSwap(top, top+1) {
			t = nil
		}
		d.bottom.Store(top + 1)
		if t == nil {
			return nil, false
		}
		return t, true
	}

	return t, true
}

// StealBatch pops up to max tasks from the stealer (top/FIFO) end into
// dst, returning how many were taken. Safe to call concurrently from any
// number of goroutines, including the owner's own PopBottom.
func (d *localDeque) StealBatch(dst []*task) int {
	max := len(dst)
	if max == 0 {
		return 0
	}
	// Each task is claimed with its own CAS on top, so a claim never covers
	// a slot the owner may be popping from the bottom at the same time.
	n := 0
	for n < max {
		top := d.top.Load()
		bottom := d.bottom.Load()
		if top >= bottom {
			break // empty
		}

		t := d.buf.Load().get(top)
		if d.top.CompareAndSwap(top, top+1) {
			dst[n] = t
			n++
		}
		// Lost the race (owner popped the last element, or another
		// stealer won); retry with fresh indices.
	}
	return n
}

// Len reports an approximate size; used only for metrics and tests, never
// for correctness decisions (it can be stale the instant it is read).
func (d *localDeque) Len() int64 {
	b := d.bottom.Load()
	t := d.top.Load()
	if b < t {
		return 0
	}
	return b - t
}
