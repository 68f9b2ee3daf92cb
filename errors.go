package corewake

import (
	"errors"
	"fmt"
)

// Standard errors, mirroring the teacher's ErrLoop* sentinel family
// (see eventloop/loop.go) but scoped to the generalized multi-worker runtime.
var (
	// ErrRuntimeShutdown names the state of a Runtime that has begun or
	// completed shutdown. No function in this package returns it or panics
	// with it: Spawn and BlockOn do not check for shutdown.
	ErrRuntimeShutdown = errors.New("corewake: runtime is shutting down or terminated")

	// ErrNoExecutor is the panic value when Spawn is called against a
	// "shell" Runtime (one built with WithShell, i.e. no worker pool).
	ErrNoExecutor = errors.New("corewake: no executor configured (shell runtime)")

	// ErrReentrantBlockOn is the panic value when BlockOn is called from a
	// goroutine that is itself one of the given Runtime's workers.
	ErrReentrantBlockOn = errors.New("corewake: cannot call BlockOn from within a worker-managed task")

	// ErrBlockingPoolClosed is the error a RunBlocking future resolves to
	// when the job was submitted after the pool started shutting down, or
	// was still queued (not yet started) when shutdown began.
	ErrBlockingPoolClosed = errors.New("corewake: blocking pool is closed")

	// ErrReactorNoFDSupport is returned by RegisterFD/UnregisterFD on a
	// Reactor that does not poll real file descriptors (the portable
	// defaultReactor, used on platforms other than linux, darwin and windows).
	ErrReactorNoFDSupport = errors.New("corewake: reactor does not support file descriptor registration")

	// Shared across the platform Reactor implementations (reactor_linux.go,
	// reactor_darwin.go), mirroring the teacher's identical sentinel set in
	// poller_linux.go/poller_darwin.go.
	ErrFDAlreadyRegistered = errors.New("corewake: fd already registered")
	ErrFDNotRegistered     = errors.New("corewake: fd not registered")
	ErrPollerClosed        = errors.New("corewake: poller closed")
)

// JoinError is returned by a JoinHandle's Wait when the task did not
// complete normally: it panicked, or it was cancelled.
//
// JoinError implements Unwrap so errors.Is/errors.As can match the
// underlying cause, the same contract the teacher's PanicError provides
// (see eventloop/errors.go).
type JoinError struct {
	// Panic holds the recovered panic value, if the task panicked while
	// being polled. Nil for a plain cancellation.
	Panic any
	// Cancelled is true if the task was dropped via cancellation (join
	// handle dropped, or runtime shutdown) rather than panicking.
	Cancelled bool
}

func (e *JoinError) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("corewake: task panicked: %v", e.Panic)
	case e.Cancelled:
		return "corewake: task was cancelled"
	default:
		return "corewake: task join error"
	}
}

// Unwrap exposes the panic value for errors.Is/errors.As, when it is itself
// an error (e.g. the task panicked with an error value).
func (e *JoinError) Unwrap() error {
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
