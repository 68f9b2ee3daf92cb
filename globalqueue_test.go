package corewake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalQueuePushPopAllFIFO(t *testing.T) {
	q := newGlobalQueue()
	a, b, c := newTestTask(), newTestTask(), newTestTask()

	q.Push(a)
	q.Push(b)
	q.Push(c)
	assert.Equal(t, 3, q.Len())

	got := q.PopAll()
	require.Len(t, got, 3)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
	assert.Same(t, c, got[2])
	assert.Equal(t, 0, q.Len())
}

func TestGlobalQueuePopAllOnEmptyReturnsNil(t *testing.T) {
	q := newGlobalQueue()
	assert.Empty(t, q.PopAll())
}

func TestGlobalQueueSpansMultipleChunks(t *testing.T) {
	q := newGlobalQueue()
	const n = 500 // several multiples of gqChunk's 64-slot capacity
	tasks := make([]*task, n)
	for i := range tasks {
		tasks[i] = newTestTask()
		q.Push(tasks[i])
	}

	assert.Equal(t, n, q.Len())

	got := q.PopAll()
	require.Len(t, got, n)
	for i := range tasks {
		assert.Same(t, tasks[i], got[i])
	}
}

func TestGlobalQueuePushAfterCloseIsDropped(t *testing.T) {
	q := newGlobalQueue()
	q.Push(newTestTask())
	q.Close()

	q.Push(newTestTask())
	assert.Equal(t, 0, q.Len(), "pushes after Close must be silently dropped")
}

func TestGlobalQueueWaitPopAllBlocksUntilNonEmpty(t *testing.T) {
	q := newGlobalQueue()
	done := make(chan struct{})
	var got []*task
	var ok bool

	go func() {
		got, ok = q.WaitPopAll()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitPopAll returned before any task was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	tk := newTestTask()
	q.Push(tk)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitPopAll did not wake up after a push")
	}

	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Same(t, tk, got[0])
}

func TestGlobalQueueWaitPopAllReturnsFalseOnClose(t *testing.T) {
	q := newGlobalQueue()
	done := make(chan struct{})
	var ok bool

	go func() {
		_, ok = q.WaitPopAll()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitPopAll did not wake up after Close")
	}
	assert.False(t, ok)
}

func TestGlobalQueueWaitPopAllDrainsExistingBeforeClose(t *testing.T) {
	// A close with tasks already queued still delivers them via one final
	// WaitPopAll, as globalQueue.Close's doc comment states.
	q := newGlobalQueue()
	tk := newTestTask()
	q.Push(tk)
	q.Close()

	got, ok := q.WaitPopAll()
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Same(t, tk, got[0])

	_, ok = q.WaitPopAll()
	assert.False(t, ok)
}

func TestGlobalQueueConcurrentPushers(t *testing.T) {
	q := newGlobalQueue()
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Push(newTestTask())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
	got := q.PopAll()
	assert.Len(t, got, producers*perProducer)
}
