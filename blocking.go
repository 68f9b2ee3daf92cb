package corewake

import (
	"context"
	"sync"
	"time"
)

// BlockingPool hosts synchronous work that must not run on a worker thread
// (spec §4.4's named use case: iterating a directory, see fsiter/). It is
// grounded on two teacher shapes combined: eventloop/promisify.go's
// goroutine-dispatch/recover/Goexit-guard pattern (there, unbounded; here,
// bounded by an optional cap) and microbatch/microbatch.go's
// job-closure/one-shot-result-channel/sync.Once-guarded-shutdown shape.
// Neither teacher file has pool *sizing*; that piece (lazy thread creation up
// to a cap, idle keepalive exit) is this module's own, built to spec §4.4's
// contract rather than invented beyond it.
type BlockingPool struct {
	mu        sync.Mutex
	cond      sync.Cond
	queue     []blockingJob
	idle      int
	total     int
	cap       int // 0 = unbounded
	keepAlive time.Duration
	closed    bool
	expired   bool
	wg        sync.WaitGroup
	logger    Logger
}

// blockingJob pairs the closure to run with the cancellation callback
// invoked instead, if Close drains the job before any thread starts it —
// this is the queue-level analogue of spec §3's "every accepted job
// eventually runs to completion or the pool is shutting down and the result
// channel is closed with cancellation".
type blockingJob struct {
	run    func()
	cancel func()
}

// NewBlockingPool constructs a pool. capacity <= 0 means unbounded (threads
// are still created lazily, one per queued job with no idle thread
// available); keepAlive <= 0 means idle threads never exit on their own.
func NewBlockingPool(capacity int, keepAlive time.Duration, logger Logger) *BlockingPool {
	p := &BlockingPool{cap: capacity, keepAlive: keepAlive, logger: logger}
	p.cond.L = &p.mu
	return p
}

// blockingOutcome is the one-shot result of a submitted closure: either its
// return value, or the error from a panic or pool shutdown.
type blockingOutcome[T any] struct {
	val T
	err error
}

// BlockingFuture is the handle returned by RunBlocking: spec §4.4's
// "future<T>" resolving to the closure's return value, or a cancellation
// error if the pool shut down before the closure started.
type BlockingFuture[T any] struct {
	ch chan blockingOutcome[T]
}

// Wait blocks until the closure completes (or panics), the pool discards the
// job due to shutdown, or ctx is done, whichever happens first.
func (f *BlockingFuture[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-f.ch:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// RunBlocking submits fn to pool and returns a future resolving to its
// result. fn runs exactly once, on a blocking thread, never on a worker.
func RunBlocking[T any](pool *BlockingPool, fn func() (T, error)) *BlockingFuture[T] {
	fut := &BlockingFuture[T]{ch: make(chan blockingOutcome[T], 1)}

	job := blockingJob{
		run: func() {
			defer func() {
				if r := recover(); r != nil {
					if pool.logger != nil {
						pool.logger.Err().Log(`blocking job panicked`)
					}
					var zero T
					fut.ch <- blockingOutcome[T]{val: zero, err: &JoinError{Panic: r}}
				}
			}()
			v, err := fn()
			fut.ch <- blockingOutcome[T]{val: v, err: err}
		},
		cancel: func() {
			var zero T
			fut.ch <- blockingOutcome[T]{val: zero, err: ErrBlockingPoolClosed}
		},
	}

	if !pool.submit(job) {
		job.cancel()
	}

	return fut
}

// submit enqueues job and starts a new blocking thread if the queue has no
// idle thread waiting and the pool is below its cap (or uncapped). Reports
// false, without queuing, if the pool is already closed.
func (p *BlockingPool) submit(job blockingJob) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	p.queue = append(p.queue, job)
	spawn := p.idle == 0 && (p.cap <= 0 || p.total < p.cap)
	if spawn {
		p.total++
	}
	p.cond.Signal()
	p.mu.Unlock()

	if spawn {
		p.wg.Add(1)
		go p.runThread()
	}
	return true
}

// runThread is the body of one blocking OS-bound goroutine: pull a job,
// run it, repeat, until idle for longer than keepAlive or the pool closes.
func (p *BlockingPool) runThread() {
	defer p.wg.Done()

	for {
		p.mu.Lock()

		for len(p.queue) == 0 && !p.closed {
			if p.waitForWorkLocked() {
				// Idle past keepAlive with nothing queued: this thread exits,
				// freeing the OS resources, matching spec §4.4's "idle
				// threads exit after a configurable keepalive".
				p.total--
				p.mu.Unlock()
				return
			}
		}

		if len(p.queue) == 0 {
			// Closed with nothing left to run.
			p.total--
			p.mu.Unlock()
			return
		}

		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		job.run()
	}
}

// waitForWorkLocked blocks on p.cond (p.mu held) until woken by new work,
// Close, or (if keepAlive > 0) the keepalive timer elapsing with no work
// having arrived in the meantime. Returns true exactly in the latter case.
// Mirrors defaultReactor.Park's cond+AfterFunc idiom (reactor.go) adapted to
// a pool with many waiting consumers instead of one.
func (p *BlockingPool) waitForWorkLocked() bool {
	p.idle++
	defer func() { p.idle-- }()

	if p.keepAlive <= 0 {
		p.cond.Wait()
		return false
	}

	// expired is local to this call, so another thread's keepalive timer
	// cannot make this one exit early.
	expired := false
	timer := time.AfterFunc(p.keepAlive, func() {
		p.mu.Lock()
		expired = true
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	p.cond.Wait()
	return expired && len(p.queue) == 0 && !p.closed
}

// Close stops accepting new jobs, cancels every job still queued (they
// resolve via their cancel callback instead of running), and waits for every
// job already running to finish. In-flight jobs run to completion, per spec
// §4.4/§5: only unstarted jobs are cancelled.
func (p *BlockingPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, job := range dropped {
		job.cancel()
	}
	p.wg.Wait()
}
