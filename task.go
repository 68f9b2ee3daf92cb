package corewake

import (
	"sync/atomic"
)

// PollFunc is the computation a Task drives: it is invoked by the executor
// at most once concurrently, and must register w (or a clone of it, via
// some resource's AtomicWaker) before returning ready=false if it wants to
// be polled again. Returning ready=true completes the task; it must never
// be invoked again afterward.
//
// This is corewake's concrete shape for spec §4.1's
// poll(task, waker) -> {Pending, Ready(output)} contract. Go has no
// language-native coroutines or a Pin<Box<dyn Future>> vtable to borrow
// (see spec §9's "coroutine control flow" design note), so a PollFunc is
// simply a closure closing over whatever state a hand-written state
// machine needs; composite futures (timeouts racing work, a chain of
// dependent steps) are built by nesting PollFunc values the same way the
// teacher's promise.go threads continuations together.
type PollFunc func(w *Waker) (output any, ready bool)

// taskState is the state word from spec §4.1. It intentionally mirrors the
// numeric ordering style of eventloop/state.go's LoopState (small, dense,
// explicitly named), though the states themselves are this spec's, not the
// teacher's.
type taskState uint32

const (
	stateIdle taskState = iota
	stateNotified
	stateRunning
	stateRunningNotified
	stateComplete
	stateCancelled
)

// task is the executor-private representation of a spawned computation.
// The exported handle is JoinHandle[T]; Task itself is never exposed so
// that the state-word invariants in this file are the only way to mutate
// it.
type task struct {
	state           atomic.Uint32
	cancelRequested atomic.Bool

	poll PollFunc

	// joinWaker notifies a waiting JoinHandle.Wait caller on completion.
	// Guarded indirectly: only written before spawn and read after
	// stateComplete/stateCancelled is visible.
	joinWaker atomicJoinWaker

	output     any
	joinErr    error
	resultOnce atomic.Bool // guards single write to output/joinErr

	// directWake, when non-nil, is invoked by Waker.Wake in place of the
	// normal run-queue enqueue, used by BlockOn to drive a task on the
	// calling goroutine instead of handing it to the worker pool (see
	// runtime.go). Left nil for every task a worker or the global queue
	// owns.
	directWake func()
}

// atomicJoinWaker is a trivial single-slot notifier: JoinHandle.Wait parks
// on a channel closed exactly once, rather than reusing AtomicWaker (which
// exists to serve re-pollable Pending loops; a join handle resolves exactly
// once, so a closed-channel signal is the simpler, idiomatic Go primitive
// here — see JoinHandle below).
type atomicJoinWaker struct {
	done chan struct{}
}

func newTask(poll PollFunc) *task {
	t := &task{poll: poll}
	t.joinWaker.done = make(chan struct{})
	return t
}

// schedule implements the idle->notified / running->running+notified
// transitions of spec §4.1's state machine (the Waker.Wake path). It
// returns true exactly when the caller (Waker.Wake) is responsible for
// making the task runnable again — either by enqueuing it (normal tasks)
// or by invoking directWake (BlockOn-driven tasks) — keeping the
// "at-most-one-queue" invariant: every other transition either already has
// the task queued/running (notified, runningNotified) or means there is
// nothing to do (complete/cancelled never run again).
func (t *task) schedule(rt *Runtime) bool {
	for {
		s := taskState(t.state.Load())
		switch s {
		case stateIdle:
			if t.state.CompareAndSwap(uint32(s), uint32(stateNotified)) {
				return true
			}
		case stateNotified, stateRunningNotified, stateComplete, stateCancelled:
			return false
		case stateRunning:
			if t.state.CompareAndSwap(uint32(s), uint32(stateRunningNotified)) {
				return false
			}
		}
	}
}

// beginPoll transitions notified->running. It returns false if the task
// was cancelled (or, defensively, already complete) between being enqueued
// and being dequeued, in which case the worker must drop it without
// polling.
func (t *task) beginPoll() bool {
	return t.state.CompareAndSwap(uint32(stateNotified), uint32(stateRunning))
}

// endPoll is called by the worker immediately after poll returns. ready
// reports whether poll returned Ready. requeue reports whether the worker
// must push the task back onto a run queue immediately (a wake arrived
// while it was running, and it was not cancelled in the meantime).
func (t *task) endPoll(ready bool, output any) (requeue bool) {
	if ready {
		t.settle(output, nil)
		t.state.Store(uint32(stateComplete))
		return false
	}

	for {
		if t.cancelRequested.Load() {
			t.settle(nil, &JoinError{Cancelled: true})
			t.state.Store(uint32(stateCancelled))
			return false
		}

		s := taskState(t.state.Load())
		switch s {
		case stateRunning:
			if t.state.CompareAndSwap(uint32(s), uint32(stateIdle)) {
				return false
			}
		case stateRunningNotified:
			if t.state.CompareAndSwap(uint32(s), uint32(stateNotified)) {
				return true
			}
		default:
			// Defensive: cancellation raced in between the load above and
			// here. Loop to re-check cancelRequested.
		}
	}
}

// cancel implements the "any -> cancelled" transition (join handle dropped,
// or runtime shutdown). If the task is currently idle or notified it is
// dropped immediately; if it is running, cancellation is deferred to the
// worker's endPoll, which is the "earliest safe point" spec §4.1 requires.
func (t *task) cancel() {
	t.cancelRequested.Store(true)
	for {
		s := taskState(t.state.Load())
		switch s {
		case stateIdle, stateNotified:
			if t.state.CompareAndSwap(uint32(s), uint32(stateCancelled)) {
				t.settle(nil, &JoinError{Cancelled: true})
				return
			}
		default:
			return
		}
	}
}

// settle records the task's outcome exactly once and unblocks JoinHandle.Wait.
func (t *task) settle(output any, err error) {
	if !t.resultOnce.CompareAndSwap(false, true) {
		return
	}
	t.output = output
	t.joinErr = err
	close(t.joinWaker.done)
}

// recoverPanic converts a recovered panic value into the task's settled
// error, matching the teacher's PanicError (eventloop/promisify.go)
// propagation-through-join-handle policy from spec §7.
func (t *task) recoverPanic(r any) {
	t.settle(nil, &JoinError{Panic: r})
	t.state.Store(uint32(stateComplete))
}
