package corewake

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Runtime is spec §6's "runtime": a ThreadPool of Workers, a Reactor, and a
// BlockingPool, constructed from a Builder's Option values (options.go).
// Grounded on the teacher's Loop (eventloop/loop.go), generalized from one
// goroutine driving one queue to N workers each with their own local deque,
// per spec §4.2.
type Runtime struct {
	mode runtimeMode

	workers []*worker
	global  *globalQueue
	reactor Reactor

	blocking *BlockingPool
	metrics  *Metrics
	logger   Logger

	parkedWorkers atomic.Int32
	shuttingDown  atomic.Bool
	wg            sync.WaitGroup
	closeOnce     sync.Once

	// workerGoroutineIDs lets BlockOn detect reentrancy (spec §7.4: calling
	// BlockOn from a worker-managed task panics). Populated once per worker
	// when its run() goroutine starts; read by isWorkerGoroutine. Grounded
	// directly on the teacher's Loop.isLoopThread/getGoroutineID
	// (eventloop/loop.go), the one place in the teacher that needs to
	// recognize "am I on a specific long-lived goroutine" without a
	// goroutine-ID library (see DESIGN.md's note on why
	// github.com/joeycumines/goroutineid was not wired).
	workerGoroutineIDs sync.Map // uint64 -> *worker
}

// New constructs a Runtime per the resolved Option set and the spec §6
// builder tri-state (multi-threaded work-stealing, single-threaded
// current-thread, or shell/no-executor).
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveBuildOptions(opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = defaultLogger()
	}

	reactor, err := newPlatformReactor()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		mode:     cfg.mode,
		global:   newGlobalQueue(),
		reactor:  reactor,
		blocking: NewBlockingPool(cfg.blockingPoolCap, cfg.blockingPoolKeepAlive, logger),
		metrics:  &Metrics{enabled: cfg.metricsEnabled},
		logger:   logger,
	}

	if cfg.mode != modeShell {
		rt.workers = make([]*worker, cfg.workers)
		for i := range rt.workers {
			rt.workers[i] = newWorker(i, rt)
		}
		rt.wg.Add(len(rt.workers))
		for _, w := range rt.workers {
			go func(w *worker) {
				id := getGoroutineID()
				rt.workerGoroutineIDs.Store(id, w)
				defer rt.workerGoroutineIDs.Delete(id)
				w.run()
			}(w)
		}
	}

	logger.Info().Int64(`workers`, int64(len(rt.workers))).Log(`runtime started`)

	return rt, nil
}

// getGoroutineID extracts the calling goroutine's numeric id by parsing the
// header line of runtime.Stack, exactly the teacher's own getGoroutineID
// (eventloop/loop.go) — the same technique it uses because no goroutine-ID
// library is part of the teacher's dependency surface either.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// isWorkerGoroutine reports whether the calling goroutine is one of rt's
// workers, i.e. whether it is inside a task's poll call somewhere up the
// stack.
func (rt *Runtime) isWorkerGoroutine() bool {
	_, ok := rt.workerGoroutineIDs.Load(getGoroutineID())
	return ok
}

// currentWorker returns the worker whose run() goroutine is calling in, or
// nil if the caller is not one of rt's workers. Used by Spawn and
// Waker.Wake to implement spec §4.2's routing rule: work originating on a
// worker goes onto that worker's own local deque instead of always taking
// the global-queue path, so the deque's LIFO locality benefit (and a
// suspended task's ability to migrate to whichever worker wakes it) both
// actually apply.
func (rt *Runtime) currentWorker() *worker {
	v, ok := rt.workerGoroutineIDs.Load(getGoroutineID())
	if !ok {
		return nil
	}
	return v.(*worker)
}

// workerDone is called by each worker's run() just before it returns.
func (rt *Runtime) workerDone() {
	rt.wg.Done()
}

func (rt *Runtime) isShuttingDown() bool {
	return rt.shuttingDown.Load()
}

// nextTimerDeadline is the hook spec §4.2 names for "park with an optional
// timeout equal to the next timer deadline". corewake's core has no timer
// wheel of its own — spec §1 explicitly places the monotonic timer wheel out
// of scope, an external collaborator — so absent one being wired in, a
// worker always parks without a deadline.
func (rt *Runtime) nextTimerDeadline() (time.Time, bool) {
	return time.Time{}, false
}

// enqueue places t on the global overflow queue and wakes a parked worker,
// per spec §4.2's "spawn from outside any worker" routing. Also used by
// Waker.Wake for tasks with no directWake override.
func (rt *Runtime) enqueue(t *task) {
	rt.global.Push(t)
	rt.reactor.Unpark()
}

// Reactor returns the runtime's driver handle, usable even on a shell
// runtime with no workers (spec §9's "shell still owns a Reactor" note,
// SPEC_FULL.md §4).
func (rt *Runtime) Reactor() Reactor {
	return rt.reactor
}

// BlockingPool returns the runtime's blocking-work offload pool.
func (rt *Runtime) BlockingPool() *BlockingPool {
	return rt.blocking
}

// Metrics returns the runtime's poll/steal latency and queue depth
// estimators. Always non-nil; reads are zero-valued if WithMetrics(true) was
// never passed to New.
func (rt *Runtime) Metrics() *Metrics {
	return rt.metrics
}

// Logger returns the runtime's structured logger.
func (rt *Runtime) Logger() Logger {
	return rt.logger
}

// Spawn submits poll to the runtime as a new task and returns a JoinHandle
// for its eventual output, per spec §6's spawn(task) -> join_handle. Panics
// with ErrNoExecutor if rt was built with WithShell (no worker pool).
func Spawn[T any](rt *Runtime, poll func(w *Waker) (T, bool)) *JoinHandle[T] {
	if rt.mode == modeShell {
		panic(ErrNoExecutor)
	}

	t := newTask(func(w *Waker) (any, bool) {
		out, ready := poll(w)
		return out, ready
	})

	h := &JoinHandle[T]{t: t}

	if t.schedule(rt) {
		if w := rt.currentWorker(); w != nil {
			// Spawned from inside a worker's own poll: push onto that
			// worker's local deque rather than the global queue, per spec
			// §4.2's spawn routing.
			w.deque.PushBottom(t)
		} else {
			rt.enqueue(t)
		}
	}

	return h
}

// JoinHandle is the caller-facing handle to a spawned task's eventual
// output, spec §6's join_handle.
type JoinHandle[T any] struct {
	t *task
}

// Wait blocks until the task completes, is cancelled, or ctx is done,
// returning the task's output or a *JoinError (wrapped if ctx expired
// first, the error is ctx.Err() instead).
func (h *JoinHandle[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-h.t.joinWaker.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if h.t.joinErr != nil {
		return zero, h.t.joinErr
	}
	out, _ := h.t.output.(T)
	return out, nil
}

// Cancel drops the task per spec §4.1's "any -> cancelled" transition. A
// subsequent Wait returns a *JoinError with Cancelled set.
func (h *JoinHandle[T]) Cancel() {
	h.t.cancel()
}

// BlockOn drives fut to completion on the calling goroutine, per spec §6.
// It panics with ErrReentrantBlockOn if called from within a goroutine that
// is itself one of rt's workers (spec §7.4's "misuse" category — the same
// reentrancy tokio's own block_on rejects).
//
// poll is driven directly: a task value is allocated only for its state
// word and directWake hook, and it never enters a run queue. Wakes
// registered against the supplied Waker invoke a directWake closure that
// simply re-parks/un-parks this goroutine's private condition, exactly the
// "drive the passed future directly on the calling goroutine plus the
// reactor" shape SPEC_FULL.md's shell-mode note describes — used here for
// every mode, not only shell, since BlockOn never needs a worker even when
// workers exist.
func BlockOn[T any](ctx context.Context, rt *Runtime, poll func(w *Waker) (T, bool)) (T, error) {
	if rt.isWorkerGoroutine() {
		panic(ErrReentrantBlockOn)
	}

	var zero T

	t := newTask(func(w *Waker) (any, bool) {
		out, ready := poll(w)
		return out, ready
	})

	var bd blockOnDriver
	bd.init()
	t.directWake = bd.wake

	for {
		if ctx.Err() != nil {
			t.cancel()
			return zero, ctx.Err()
		}

		t.state.Store(uint32(stateRunning))
		w := &Waker{task: t, rt: rt}

		var requeue bool
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.recoverPanic(r)
				}
			}()
			out, ready := poll(w)
			if ready {
				t.settle(out, nil)
				t.state.Store(uint32(stateComplete))
			} else {
				requeue = t.endPoll(false, nil)
			}
		}()

		if t.state.Load() == uint32(stateComplete) {
			if t.joinErr != nil {
				return zero, t.joinErr
			}
			out, _ := t.output.(T)
			return out, nil
		}

		if requeue {
			// A wake already arrived while poll was running (endPoll
			// observed stateRunningNotified): the wakeup already happened,
			// it just never reached bd.wake because the task was never
			// actually idle in between. Loop straight back into poll
			// instead of waiting on a wake that already landed.
			continue
		}

		if !bd.waitOrContext(ctx) {
			t.cancel()
			return zero, ctx.Err()
		}
	}
}

// blockOnDriver is the minimal per-call parking primitive BlockOn uses
// instead of handing its task to a worker: a single-slot condition a
// directWake closure signals, woken either by a real wake or by ctx
// cancellation (bridged by a helper goroutine in waitOrContext, since
// context.Context has no condition-variable integration). Structurally this is the same
// cond+flag shape as defaultReactor.Park (reactor.go), scoped to one
// in-flight BlockOn call instead of a whole runtime.
type blockOnDriver struct {
	mu    sync.Mutex
	cond  sync.Cond
	woken bool
}

func (b *blockOnDriver) init() {
	b.cond.L = &b.mu
}

func (b *blockOnDriver) wake() {
	b.mu.Lock()
	b.woken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// waitOrContext blocks until wake() fires or ctx is done, returning false in
// the latter case. A helper goroutine waits on the condition and reports
// through a channel that is selected against ctx.Done(), bridging
// context.Context's channel-based cancellation and this driver's
// condition-variable wakeup, mirroring how the teacher's own Promisify
// (promisify.go) threads context cancellation through a select rather than
// a shared primitive.
func (b *blockOnDriver) waitOrContext(ctx context.Context) bool {
	done := ctx.Done()
	if done == nil {
		b.mu.Lock()
		for !b.woken {
			b.cond.Wait()
		}
		b.woken = false
		b.mu.Unlock()
		return true
	}

	result := make(chan struct{}, 1)
	go func() {
		b.mu.Lock()
		for !b.woken {
			b.cond.Wait()
		}
		b.woken = false
		b.mu.Unlock()
		result <- struct{}{}
	}()

	select {
	case <-result:
		return true
	case <-done:
		b.wake() // release the helper goroutine above
		<-result
		return false
	}
}

// Close shuts the runtime down synchronously: it flags shutdown, unparks
// and joins every worker goroutine (a worker returns only once every queue
// it can see is empty, so queued tasks are polled to their next suspension
// first), cancels any task still left in a queue, stops the blocking pool,
// and closes the reactor. A task that is suspended (not queued) when Close
// runs is not cancelled: its JoinHandle.Wait does not resolve, and a later
// Wake of it is dropped by the closed global queue. A poll function that
// blocks keeps Close from returning until it does.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.logger.Info().Log(`runtime shutting down`)
		rt.shuttingDown.Store(true)
		rt.reactor.Unpark()
		for range rt.workers {
			rt.reactor.Unpark()
		}

		rt.wg.Wait()

		for _, w := range rt.workers {
			for {
				tk, ok := w.deque.PopBottom()
				if !ok {
					break
				}
				tk.cancel()
			}
		}
		rt.global.Close()
		if batch, ok := rt.global.WaitPopAll(); ok {
			for _, tk := range batch {
				tk.cancel()
			}
		}

		rt.blocking.Close()
		_ = rt.reactor.Close()
	})
	return nil
}
