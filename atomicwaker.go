package corewake

import "sync/atomic"

// AtomicWaker is a single-slot, lock-free holder of the most recently
// registered Waker, implementing the lost-wakeup-free contract mandated by
// spec §4.5: for any interleaving, if a call to Wake has not yet observed a
// subsequent Register, the most recently Register-ed waker is invoked.
//
// The state word encodes three logical states, per the spec's suggested
// encoding:
//
//	waiting                    (0)       - no register or wake in flight
//	registering                (1 << 0)  - Register is writing the slot
//	waking                     (1 << 1)  - a Wake observed (or is about to
//	                                        observe) the slot and will/has
//	                                        invoked the stored waker
//
// Register briefly holds exclusive ownership of the slot while the state is
// "registering"; Wake never reads the slot while that bit is set, it only
// sets the "waking" bit so Register notices and hands the wake off itself.
// This mirrors tokio's AtomicWaker, which spec §9 attributes as the
// canonical implementation of this primitive; no source file for it was
// retrieved into this pack (only watch.rs's use of
// crate::sync::task::AtomicWaker was), so the encoding below is derived
// directly from the guarantee in spec §4.5 rather than copied from source.
type AtomicWaker struct {
	state atomic.Uint32
	waker *Waker
}

const (
	awWaiting     uint32 = 0
	awRegistering uint32 = 1 << 0
	awWaking      uint32 = 1 << 1
)

// Register stores w such that a subsequent Wake call observes it. If a
// previous waker is present, it is replaced (and, being unreferenced,
// becomes eligible for garbage collection).
func (a *AtomicWaker) Register(w *Waker) {
	for {
		switch a.state.Load() {
		case awWaiting:
			if !a.state.CompareAndSwap(awWaiting, awRegistering) {
				continue // lost the race to claim the slot, retry
			}

			a.waker = w

			if !a.state.CompareAndSwap(awRegistering, awWaiting) {
				// A Wake arrived while we held "registering": it set the
				// "waking" bit (state is now registering|waking) rather
				// than reading the slot itself, because it could not tell
				// whether we had finished writing it yet. Take the waker
				// back out, restore "waiting", and fire it ourselves so
				// the wake is not lost.
				stolen := a.waker
				a.waker = nil
				a.state.Store(awWaiting)
				stolen.Wake()
			}
			return

		case awWaking:
			// A wake is in progress against whatever was previously
			// registered; it will cause a re-poll, during which Register
			// will be called again and will succeed normally. Firing w
			// immediately as well is harmless: redundant wakes coalesce at
			// the task level (see task.go), and this guarantees Register
			// never blocks waiting for the in-flight Wake to finish.
			w.Wake()
			return

		default: // awRegistering, awRegistering|awWaking
			// Another Register is concurrently in flight. A single
			// AtomicWaker is meant to be driven by one task at a time, so
			// this indicates caller misuse; firing w immediately is the
			// conservative, wakeup-safe response.
			w.Wake()
			return
		}
	}
}

// Wake atomically takes the stored waker, if any, and invokes it.
func (a *AtomicWaker) Wake() {
	for {
		old := a.state.Load()
		if old&awWaking != 0 {
			return // a wake is already in flight (or being registered into)
		}
		if !a.state.CompareAndSwap(old, old|awWaking) {
			continue
		}
		if old == awWaiting {
			// We are the sole owner of the slot; it is safe to read.
			w := a.waker
			a.waker = nil
			a.state.Store(awWaiting)
			w.Wake()
		}
		// old == awRegistering: Register currently owns the slot and will
		// observe the "waking" bit we just set via its own CAS, performing
		// the hand-off itself.
		return
	}
}
