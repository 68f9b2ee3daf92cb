//go:build windows

package corewake

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// iocpReactor is the Windows Reactor. The teacher's own Windows poller
// (eventloop/poller_windows.go) wraps real IOCP via
// golang.org/x/sys/windows; reproducing that faithfully needs a live
// CreateIoCompletionPort handle and overlapped I/O plumbing this module has
// no Windows environment to validate against, so this is deliberately the
// "IOCP-flavoured stub" SPEC_FULL.md calls for: it keeps the Reactor
// interface's external contract (Park/Unpark/RegisterFD/RegisterSignal)
// intact on a Windows build, backed by the same condition-variable
// mechanism as defaultReactor, with fd registration bookkept but not
// actually polled. A real IOCP backend would slot in at newPlatformReactor
// without changing any caller.
type iocpReactor struct {
	mu     sync.Mutex
	cond   sync.Cond
	woken  bool
	closed atomic.Bool

	fdMu sync.RWMutex
	fds  map[int]fdCallbackInfo

	signals signalRelay
}

func newPlatformReactor() (Reactor, error) {
	r := &iocpReactor{fds: make(map[int]fdCallbackInfo)}
	r.cond.L = &r.mu
	return r, nil
}

func (r *iocpReactor) Park(deadline time.Time, hasDeadline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.woken || r.closed.Load() {
		r.woken = false
		return
	}

	if !hasDeadline {
		for !r.woken && !r.closed.Load() {
			r.cond.Wait()
		}
		r.woken = false
		return
	}

	timer := time.AfterFunc(time.Until(deadline), func() {
		r.mu.Lock()
		r.woken = true
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	for !r.woken && !r.closed.Load() {
		r.cond.Wait()
	}
	r.woken = false
}

func (r *iocpReactor) Unpark() {
	r.mu.Lock()
	r.woken = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *iocpReactor) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if r.closed.Load() {
		return ErrPollerClosed
	}
	r.fdMu.Lock()
	defer r.fdMu.Unlock()
	if _, exists := r.fds[fd]; exists {
		return ErrFDAlreadyRegistered
	}
	r.fds[fd] = fdCallbackInfo{cb: cb, events: events}
	return nil
}

func (r *iocpReactor) UnregisterFD(fd int) error {
	r.fdMu.Lock()
	defer r.fdMu.Unlock()
	if _, exists := r.fds[fd]; !exists {
		return ErrFDNotRegistered
	}
	delete(r.fds, fd)
	return nil
}

func (r *iocpReactor) RegisterSignal(sig os.Signal) (<-chan os.Signal, func()) {
	return r.signals.register(sig)
}

func (r *iocpReactor) Close() error {
	r.closed.Store(true)
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	r.signals.closeAll()
	return nil
}
