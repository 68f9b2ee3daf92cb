// Package watch implements spec §4.6's WatchChannel: a single-producer,
// multi-consumer channel that retains only the most recently broadcast
// value, so a slow or newly-subscribed receiver always observes the latest
// state rather than a backlog. Ported from
// original_source/tokio/src/sync/watch.rs onto corewake's own AtomicWaker
// (github.com/corewake/corewake) in place of tokio's task waker, and the
// stdlib weak package for the Sender's "consumers own" weak reference
// (the same primitive eventloop/registry.go uses, applied here in the
// opposite ownership direction: there, the registry holds weak refs to
// promises owned by callers; here, the Sender holds a weak ref to state
// owned by its Receivers).
package watch

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/corewake/corewake"
)

// closedBit is the low bit of the version counter, per spec §4.6: set once
// the Sender has gone away, cleared for every live version value.
const closedBit uint64 = 1

// shared is the WatchChannel's common state: the latest value under a
// reader-writer lock, a version counter whose low bit is the CLOSED flag,
// the per-receiver waker map, and a cancel waker for Sender.Closed.
type shared[T any] struct {
	valueMu sync.RWMutex
	value   T

	version atomic.Uint64

	watchersMu sync.Mutex
	nextID     uint64
	watchers   map[uint64]*corewake.AtomicWaker

	cancel corewake.AtomicWaker

	// noReceivers is the deterministic half of spec §9's "sender detects
	// closing by upgrade failure": Rust's Arc/Weak pair notices the last
	// strong reference dropping synchronously, the instant it happens,
	// because Drop runs deterministically. Go's weak.Pointer has no such
	// guarantee — a collectible shared value stays reachable until the
	// garbage collector actually runs, which is not coupled to when the
	// last Receiver stops being used. noReceivers is set the instant the
	// watchers map empties out (Receiver.Close, synchronous), so
	// Broadcast/Closed don't have to wait on the collector to observe
	// that nobody is listening; the weak pointer remains in place for the
	// case where the Sender itself also becomes unreachable, per spec §9.
	noReceivers atomic.Bool
}

func (s *shared[T]) wakeAll() {
	s.watchersMu.Lock()
	wakers := make([]*corewake.AtomicWaker, 0, len(s.watchers))
	for _, w := range s.watchers {
		wakers = append(wakers, w)
	}
	s.watchersMu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

// Sender is the producer half of a WatchChannel. It holds only a weak
// reference to the shared state: per spec §9's cyclic-reference note,
// receivers own the channel, so state is reclaimed once the last Receiver
// is closed, and Broadcast/Closed observe that via a failed weak upgrade
// instead of the Sender keeping the channel alive forever.
type Sender[T any] struct {
	shared weak.Pointer[shared[T]]
}

// Receiver is one subscriber to a WatchChannel: a strong reference to the
// shared state plus its own id, AtomicWaker slot, and the version it last
// observed.
type Receiver[T any] struct {
	sh          *shared[T]
	id          uint64
	waker       *corewake.AtomicWaker
	verLastSeen uint64
}

// Ref is a read-locked view of the channel's current value, returned by
// RecvRef and GetRef. The caller must call Release exactly once; tokio's
// equivalent Ref<T> releases its read lock via Drop, which Go has no
// counterpart for, so the release here is explicit.
type Ref[T any] struct {
	mu    *sync.RWMutex
	value *T
}

// Value returns the referenced value. Valid only until Release is called.
func (r *Ref[T]) Value() T {
	return *r.value
}

// Release unlocks the underlying read lock.
func (r *Ref[T]) Release() {
	r.mu.RUnlock()
}

// Channel creates a WatchChannel holding initial, per spec §4.6: shared
// state starts at version 2 (version bits = 1, CLOSED clear), with the
// returned Receiver registered as id 0 and ver_last_seen 0 so its first
// recv observes initial immediately.
func Channel[T any](initial T) (*Sender[T], *Receiver[T]) {
	w0 := &corewake.AtomicWaker{}

	sh := &shared[T]{
		value:    initial,
		watchers: map[uint64]*corewake.AtomicWaker{0: w0},
		nextID:   1,
	}
	sh.version.Store(2)

	tx := &Sender[T]{shared: weak.Make(sh)}
	rx := &Receiver[T]{sh: sh, id: 0, waker: w0, verLastSeen: 0}
	return tx, rx
}

// Broadcast publishes v to every receiver, per spec §4.6: write-lock the
// value, replace it, unlock, advance the version by 2 (never setting
// CLOSED), then wake every registered receiver's AtomicWaker. Returns a
// *SendError[T] wrapping v, without publishing, if every receiver has
// already closed.
func (tx *Sender[T]) Broadcast(v T) error {
	sh := tx.shared.Value()
	if sh == nil || sh.noReceivers.Load() {
		return &SendError[T]{Value: v}
	}

	sh.valueMu.Lock()
	sh.value = v
	sh.valueMu.Unlock()

	sh.version.Add(2)
	sh.wakeAll()
	return nil
}

// Close drops tx, per spec §4.6's sender.drop(): set the CLOSED bit on the
// version counter via fetch_or, then wake every watcher so every pending
// and every future RecvRef resolves to a nil Ref instead of blocking
// forever for a broadcast that will never come. A no-op if the weak
// upgrade has already failed (every receiver closed first).
func (tx *Sender[T]) Close() {
	sh := tx.shared.Value()
	if sh == nil {
		return
	}
	sh.version.Or(closedBit)
	sh.wakeAll()
}

// Closed returns a poll function that resolves once every Receiver has
// closed, per spec §4.6's sender.closed(): register into the shared
// cancel waker, then resolve Ready if the weak upgrade has (now or ever)
// failed. Drive it like any other future, e.g.:
//
//	_, _ = corewake.BlockOn(ctx, rt, tx.Closed())
func (tx *Sender[T]) Closed() func(w *corewake.Waker) (struct{}, bool) {
	return func(w *corewake.Waker) (struct{}, bool) {
		sh := tx.shared.Value()
		if sh == nil || sh.noReceivers.Load() {
			return struct{}{}, true
		}
		sh.cancel.Register(w)
		if sh.noReceivers.Load() {
			// The last receiver closed between the check above and the
			// register call: resolve now instead of waiting on a wake
			// that already happened before we were listening for it.
			return struct{}{}, true
		}
		return struct{}{}, false
	}
}

// RecvRef returns a poll function resolving to the next value not yet
// observed by rx, per spec §4.6's recv_ref: register rx's waker before
// loading the version — the ordering spec §4.6 calls out as critical, so a
// broadcast racing the poll can never be missed — then compare versions.
// A true, nil result means the channel closed with nothing new to
// observe. The returned Ref holds the shared value's read lock until
// Release is called.
func (rx *Receiver[T]) RecvRef() func(w *corewake.Waker) (*Ref[T], bool) {
	return func(w *corewake.Waker) (*Ref[T], bool) {
		rx.waker.Register(w)

		v := rx.sh.version.Load()
		if (v &^ closedBit) != rx.verLastSeen {
			rx.sh.valueMu.RLock()
			rx.verLastSeen = v &^ closedBit
			return &Ref[T]{mu: &rx.sh.valueMu, value: &rx.sh.value}, true
		}
		if v&closedBit != 0 {
			return nil, true
		}
		return nil, false
	}
}

// Recv is RecvRef followed by an immediate copy-and-release, for callers
// that don't need the zero-copy Ref guard. ok is false only while still
// pending; once the channel closes, Recv resolves with ok=true and a
// zero T.
func (rx *Receiver[T]) Recv() func(w *corewake.Waker) (T, bool) {
	inner := rx.RecvRef()
	return func(w *corewake.Waker) (T, bool) {
		ref, ready := inner(w)
		if !ready {
			var zero T
			return zero, false
		}
		if ref == nil {
			var zero T
			return zero, true
		}
		v := ref.Value()
		ref.Release()
		return v, true
	}
}

// GetRef takes an immediate read-locked snapshot of the current value
// without waiting for a new broadcast. It leaves ver_last_seen unchanged, so
// a RecvRef that follows still returns the current value if rx has not
// received it yet.
func (rx *Receiver[T]) GetRef() *Ref[T] {
	rx.sh.valueMu.RLock()
	return &Ref[T]{mu: &rx.sh.valueMu, value: &rx.sh.value}
}

// Clone returns a new Receiver sharing the same channel: a fresh id and
// waker slot, but inheriting ver_last_seen, per spec §4.6, so the clone
// does not re-observe a value its cloner has already seen.
func (rx *Receiver[T]) Clone() *Receiver[T] {
	w := &corewake.AtomicWaker{}

	rx.sh.watchersMu.Lock()
	id := rx.sh.nextID
	rx.sh.nextID++
	rx.sh.watchers[id] = w
	rx.sh.watchersMu.Unlock()

	return &Receiver[T]{sh: rx.sh, id: id, waker: w, verLastSeen: rx.verLastSeen}
}

// Close drops rx: removes its id from the watchers map. Once the last
// live Receiver closes, noReceivers is set and the cancel waker is woken
// immediately — a synchronous, GC-independent substitute for the
// reference-count-hits-zero moment Rust's Drop gives watch.rs for free.
func (rx *Receiver[T]) Close() {
	rx.sh.watchersMu.Lock()
	delete(rx.sh.watchers, rx.id)
	empty := len(rx.sh.watchers) == 0
	rx.sh.watchersMu.Unlock()

	if empty {
		rx.sh.noReceivers.Store(true)
		rx.sh.cancel.Wake()
	}
}
