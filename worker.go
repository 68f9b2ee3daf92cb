package corewake

import (
	"math/rand/v2"
	"time"
)

// worker is one OS thread of a multi-threaded Runtime, per spec §4.2. It is
// launched as a goroutine locked to its own logical identity (Go itself
// schedules the underlying OS thread; corewake's contribution is the
// queueing and stealing policy above that, exactly as the teacher's own
// Loop is a single-goroutine state machine riding on top of Go's runtime
// scheduler rather than reimplementing thread management).
type worker struct {
	id    int
	rt    *Runtime
	deque *localDeque

	rng      *rand.Rand
	stealBuf []*task
}

func newWorker(id int, rt *Runtime) *worker {
	return &worker{
		id:    id,
		rt:    rt,
		deque: newLocalDeque(),
		// math/rand/v2's PCG is seeded per-worker so steal victim choice
		// doesn't correlate across workers started in the same instant.
		rng:      rand.New(rand.NewPCG(uint64(id)+1, uint64(id)*2654435761+1)),
		stealBuf: make([]*task, 32),
	}
}

// run is the poll loop body from spec §4.2: local deque, then steal, then
// global queue, then park. It returns once the runtime has shut down and
// every queue the worker could still observe work on is empty.
func (w *worker) run() {
	defer w.rt.workerDone()

	for {
		t, ok := w.nextTask()
		if !ok {
			return
		}
		w.pollTask(t)
	}
}

func (w *worker) nextTask() (*task, bool) {
	for {
		if t, ok := w.deque.PopBottom(); ok {
			return t, true
		}

		if t := w.stealFromSibling(); t != nil {
			return t, true
		}

		w.rt.metrics.observeGlobalQueueDepth(w.rt.global.Len())
		if batch := w.rt.global.PopAll(); len(batch) > 0 {
			w.adoptBatch(batch)
			continue
		}

		if w.rt.isShuttingDown() {
			return nil, false
		}

		w.park()

		if w.rt.isShuttingDown() {
			return nil, false
		}
	}
}

// adoptBatch pushes every task of batch onto the local deque; nextTask's
// loop then pops the most recently pushed one and polls it, so a worker
// that just drained the global queue immediately starts working instead of
// looping back through an empty steal/park check.
func (w *worker) adoptBatch(batch []*task) {
	for _, t := range batch {
		w.deque.PushBottom(t)
	}
}

func (w *worker) stealFromSibling() *task {
	workers := w.rt.workers
	n := len(workers)
	if n <= 1 {
		return nil
	}

	stealStart := w.rt.metrics.startSteal()
	defer w.rt.metrics.observeSteal(stealStart)

	start := w.rng.IntN(n)
	for i := 0; i < n; i++ {
		victim := workers[(start+i)%n]
		if victim == w {
			continue
		}
		k := victim.deque.StealBatch(w.stealBuf)
		if k == 0 {
			continue
		}
		// Keep the first stolen task to run immediately (FIFO: the oldest
		// entry in the victim's deque, per spec §4.2's stealing rationale);
		// push any remainder onto our own deque.
		first := w.stealBuf[0]
		for j := 1; j < k; j++ {
			w.deque.PushBottom(w.stealBuf[j])
			w.stealBuf[j] = nil
		}
		w.stealBuf[0] = nil
		return first
	}
	return nil
}

func (w *worker) park() {
	deadline, hasDeadline := w.rt.nextTimerDeadline()
	w.rt.parkedWorkers.Add(1)
	w.rt.reactor.Park(deadline, hasDeadline)
	w.rt.parkedWorkers.Add(-1)
}

// pollTask runs a single task to its next suspension or completion,
// applying the beginPoll/endPoll transitions from task.go and re-enqueuing
// it locally if a wake arrived while it was running.
func (w *worker) pollTask(t *task) {
	if !t.beginPoll() {
		return // cancelled (or, defensively, already settled) before dequeue
	}

	var (
		ready  bool
		output any
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.rt.logger.Err().Int64(`worker`, int64(w.id)).Log(`task panicked during poll`)
				t.recoverPanic(r)
				ready = false // endPoll below is skipped; state already set
			}
		}()
		start := w.rt.metrics.startPoll()
		output, ready = t.poll(&Waker{task: t, rt: w.rt})
		w.rt.metrics.observePoll(start)
	}()

	if t.state.Load() == uint32(stateComplete) {
		return // recoverPanic already settled and completed the task
	}

	if t.endPoll(ready, output) {
		w.deque.PushBottom(t)
	}
}

// noDeadline is a minimal placeholder satisfying spec §4.2's "park with
// an optional timeout equal to the next timer deadline": corewake's core
// has no timer wheel of its own (timers are named out of scope in spec §1
// and left to composition, per spec §5's cancellation note), so absent any
// registered deadline a worker parks indefinitely until Unpark.
var noDeadline = time.Time{}
