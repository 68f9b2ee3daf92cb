//go:build linux

package corewake

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor is the Linux Reactor: an epoll instance for registered file
// descriptors plus an eventfd used purely for Unpark, ported structurally
// from the teacher's FastPoller and wakeup_linux.go. Unlike FastPoller's
// fixed 65536-entry array (sized for the teacher's single-process event
// loop), fds is a plain mutex-guarded map: corewake's reactor is expected to
// track at most a handful of descriptors, not a large connection count, so
// the array's
// O(1)-by-index trick is not worth its memory footprint here.
type epollReactor struct {
	epfd int
	wfd  int // eventfd, also used as the poll-able wake source

	fdMu sync.RWMutex
	fds  map[int]fdCallbackInfo

	closed atomic.Bool
	once   sync.Once

	signals signalRelay
}

func newPlatformReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	r := &epollReactor{epfd: epfd, wfd: wfd, fds: make(map[int]fdCallbackInfo)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wfd),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wfd)
		return nil, err
	}
	return r, nil
}

func (r *epollReactor) Park(deadline time.Time, hasDeadline bool) {
	if r.closed.Load() {
		return
	}

	timeoutMs := -1
	if hasDeadline {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timeoutMs = int(d.Milliseconds())
	}

	var buf [64]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, buf[:], timeoutMs)
	if err != nil {
		return // EINTR and friends: the caller loops and re-parks
	}

	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == r.wfd {
			r.drainWake()
			continue
		}
		r.fdMu.RLock()
		info, ok := r.fds[fd]
		r.fdMu.RUnlock()
		if ok && info.cb != nil {
			info.cb(epollToEvents(buf[i].Events))
		}
	}
}

func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wfd, buf[:]); err != nil {
			return
		}
	}
}

func (r *epollReactor) Unpark() {
	if r.closed.Load() {
		return
	}
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(r.wfd, one[:])
}

func (r *epollReactor) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if r.closed.Load() {
		return ErrPollerClosed
	}
	r.fdMu.Lock()
	if _, exists := r.fds[fd]; exists {
		r.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	r.fds[fd] = fdCallbackInfo{cb: cb, events: events}
	r.fdMu.Unlock()

	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	})
	if err != nil {
		r.fdMu.Lock()
		delete(r.fds, fd)
		r.fdMu.Unlock()
	}
	return err
}

func (r *epollReactor) UnregisterFD(fd int) error {
	r.fdMu.Lock()
	if _, exists := r.fds[fd]; !exists {
		r.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(r.fds, fd)
	r.fdMu.Unlock()
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (r *epollReactor) RegisterSignal(sig os.Signal) (<-chan os.Signal, func()) {
	return r.signals.register(sig)
}

func (r *epollReactor) Close() error {
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		r.signals.closeAll()
		err = unix.Close(r.epfd)
		_ = unix.Close(r.wfd)
	})
	return err
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
