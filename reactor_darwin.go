//go:build darwin

package corewake

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// kqueueReactor is the Darwin Reactor, ported structurally from the
// teacher's kqueue-backed FastPoller (poller_darwin.go). kqueue has no
// eventfd equivalent, so Unpark is implemented the way the teacher's own
// Darwin wakeup path does it (wakeup_darwin.go): a self-pipe, with the read
// end registered as an EVFILT_READ kevent alongside real client fds.
type kqueueReactor struct {
	kq int

	wakeR, wakeW int

	fdMu sync.RWMutex
	fds  map[int]fdCallbackInfo

	closed atomic.Bool
	once   sync.Once

	signals signalRelay
}

func newPlatformReactor() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}

	r := &kqueueReactor{kq: kq, wakeR: fds[0], wakeW: fds[1], fds: make(map[int]fdCallbackInfo)}

	kev := unix.Kevent_t{Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}
	kev.Ident = uint64(r.wakeR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		_ = unix.Close(kq)
		_ = unix.Close(r.wakeR)
		_ = unix.Close(r.wakeW)
		return nil, err
	}
	return r, nil
}

func (r *kqueueReactor) Park(deadline time.Time, hasDeadline bool) {
	if r.closed.Load() {
		return
	}

	var tsPtr *unix.Timespec
	if hasDeadline {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		ts := unix.NsecToTimespec(d.Nanoseconds())
		tsPtr = &ts
	}

	var buf [64]unix.Kevent_t
	n, err := unix.Kevent(r.kq, nil, buf[:], tsPtr)
	if err != nil {
		return
	}

	for i := 0; i < n; i++ {
		fd := int(buf[i].Ident)
		if fd == r.wakeR {
			r.drainWake()
			continue
		}
		r.fdMu.RLock()
		info, ok := r.fds[fd]
		r.fdMu.RUnlock()
		if ok && info.cb != nil {
			info.cb(keventToEvents(buf[i]))
		}
	}
}

func (r *kqueueReactor) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(r.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (r *kqueueReactor) Unpark() {
	if r.closed.Load() {
		return
	}
	var one [1]byte
	_, _ = unix.Write(r.wakeW, one[:])
}

func (r *kqueueReactor) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
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

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	if _, err := unix.Kevent(r.kq, kevents, nil, nil); err != nil {
		r.fdMu.Lock()
		delete(r.fds, fd)
		r.fdMu.Unlock()
		return err
	}
	return nil
}

func (r *kqueueReactor) UnregisterFD(fd int) error {
	r.fdMu.Lock()
	info, exists := r.fds[fd]
	if !exists {
		r.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(r.fds, fd)
	r.fdMu.Unlock()

	kevents := eventsToKevents(fd, info.events, unix.EV_DELETE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(r.kq, kevents, nil, nil)
	return err
}

func (r *kqueueReactor) RegisterSignal(sig os.Signal) (<-chan os.Signal, func()) {
	return r.signals.register(sig)
}

func (r *kqueueReactor) Close() error {
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		r.signals.closeAll()
		err = unix.Close(r.kq)
		_ = unix.Close(r.wakeR)
		_ = unix.Close(r.wakeW)
	})
	return err
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if events&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func keventToEvents(kev unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
