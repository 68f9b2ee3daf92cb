package corewake

// Waker is an opaque handle that, when signalled via Wake, schedules a
// specific Task for re-polling. It satisfies spec's requirement that
// wake() be idempotent with respect to already-queued tasks: redundant
// wakes coalesce to at most one re-poll, enforced by the task's own state
// word (see task.go), not by the Waker itself.
//
// Unlike the Rust original this specification is drawn from, a Waker here
// needs no manual reference counting: it is a plain value holding the
// pointers required to reschedule its task, and Go's garbage collector
// retires it once nothing holds a reference. Clone exists purely so call
// sites that expect to "clone a waker before storing it" (the idiom used
// throughout spec §4.6) have a method to call; it returns a new, equivalent
// handle for the same task.
type Waker struct {
	task *task
	rt   *Runtime
}

// Wake schedules the Waker's task for re-polling. Safe to call from any
// goroutine, any number of times, including concurrently with itself and
// with the worker currently polling the task.
//
// Per spec §4.2's routing rule, a wake landing on a worker goroutine pushes
// directly onto that worker's own local deque instead of the global queue
// — the same locality rule Spawn applies, and the mechanism by which a task
// suspended on one worker migrates to whichever worker happens to wake it
// (spec §8's migration scenario).
func (w *Waker) Wake() {
	if w == nil || w.task == nil {
		return
	}
	if !w.task.schedule(w.rt) {
		return
	}
	if w.task.directWake != nil {
		w.task.directWake()
		return
	}
	if cw := w.rt.currentWorker(); cw != nil {
		cw.deque.PushBottom(w.task)
		return
	}
	w.rt.enqueue(w.task)
}

// Clone returns a Waker equivalent to w. See the type doc comment: Go's GC
// makes explicit reference counting unnecessary, so this simply returns an
// equivalent handle.
func (w *Waker) Clone() *Waker {
	if w == nil {
		return nil
	}
	return &Waker{task: w.task, rt: w.rt}
}
