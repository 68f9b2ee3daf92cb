package corewake

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFiringWaker returns a Waker whose Wake resets its task back to idle
// immediately (standing in for a worker completing a poll cycle), so the
// same Waker can be fired and re-registered repeatedly within a test.
func newFiringWaker() (*Waker, *int32) {
	tk := newTestTask()
	fired := new(int32)
	tk.directWake = func() {
		atomic.AddInt32(fired, 1)
		tk.state.Store(uint32(stateIdle))
	}
	return &Waker{task: tk}, fired
}

func TestAtomicWakerWakeWithNothingRegisteredIsNoop(t *testing.T) {
	var a AtomicWaker
	assert.NotPanics(t, func() { a.Wake() })
}

func TestAtomicWakerRegisterThenWakeDelivers(t *testing.T) {
	var a AtomicWaker
	w, fired := newFiringWaker()

	a.Register(w)
	a.Wake()

	assert.EqualValues(t, 1, atomic.LoadInt32(fired))
}

func TestAtomicWakerWakeIsIdempotentWithoutReregister(t *testing.T) {
	var a AtomicWaker
	w, fired := newFiringWaker()

	a.Register(w)
	a.Wake()
	a.Wake() // nothing registered anymore; must not panic or double count

	assert.EqualValues(t, 1, atomic.LoadInt32(fired))
}

func TestAtomicWakerSecondRegisterReplacesFirst(t *testing.T) {
	var a AtomicWaker
	w1, fired1 := newFiringWaker()
	w2, fired2 := newFiringWaker()

	a.Register(w1)
	a.Register(w2)
	a.Wake()

	assert.EqualValues(t, 0, atomic.LoadInt32(fired1), "replaced waker must not fire")
	assert.EqualValues(t, 1, atomic.LoadInt32(fired2))
}

func TestAtomicWakerRegisterWakeRegisterWakeCycle(t *testing.T) {
	var a AtomicWaker
	w, fired := newFiringWaker()

	for i := 1; i <= 5; i++ {
		a.Register(w)
		a.Wake()
		assert.EqualValues(t, i, atomic.LoadInt32(fired))
	}
}

// TestAtomicWakerConcurrentRegisterAndWake hammers Register and Wake from
// separate goroutines concurrently (the intended usage: one task's poll
// loop calling Register, arbitrary external goroutines calling Wake) and
// then proves the structure is still live by observing one final,
// unambiguous register/wake pair fire. This does not pin down any specific
// interleaving of the internal registering/waking bits (see the doc comment
// on AtomicWaker for the protocol those guard), only that the primitive
// never deadlocks or drops every subsequent wake permanently.
func TestAtomicWakerConcurrentRegisterAndWake(t *testing.T) {
	var a AtomicWaker
	w, fired := newFiringWaker()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				a.Register(w)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				a.Wake()
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	before := atomic.LoadInt32(fired)
	a.Register(w)
	a.Wake()
	after := atomic.LoadInt32(fired)

	require.Greater(t, after, before, "a register/wake pair issued after the race settles must still deliver")
}
