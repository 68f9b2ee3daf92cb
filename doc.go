// Package corewake implements the core of an asynchronous runtime: a
// work-stealing executor, a reactor/park abstraction, a blocking-work
// offload pool, and a latest-value broadcast channel ([github.com/corewake/corewake/watch])
// that exemplifies the waker arithmetic the rest of the runtime depends on.
//
// # Architecture
//
// A [Runtime] owns a set of worker goroutines, each with a local
// work-stealing deque, plus a [Reactor] that parks idle workers until an
// external event (I/O readiness, a timer, an explicit [Waker.Wake]) occurs.
// Computations are poll functions driven by repeatedly calling them with a
// fresh [Waker] until they report ready. A [BlockingPool] hosts synchronous
// work (notably the directory iteration in
// [github.com/corewake/corewake/fsiter]) off the worker threads.
//
// # Usage
//
//	rt, err := corewake.New(corewake.WithWorkers(4))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	h := corewake.Spawn(rt, func(w *corewake.Waker) (int, bool) {
//		return 42, true // Ready immediately
//	})
//	out, err := h.Wait(context.Background())
//
// BlockOn drives a poll function directly on the calling goroutine instead
// of spawning it onto the runtime's worker pool:
//
//	out, err := corewake.BlockOn(context.Background(), rt, func(w *corewake.Waker) (int, bool) {
//		return 42, true
//	})
//
// # Thread safety
//
// [Spawn], [BlockOn], and [Waker.Wake] are safe to call from any goroutine.
// A given poll function is called by at most one goroutine at a time, never
// concurrently with itself.
package corewake
