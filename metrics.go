package corewake

import (
	"sync"
	"time"
)

// Metrics holds the runtime's optional, low-overhead statistics, enabled via
// WithMetrics and retrieved with Runtime.Metrics. Ported from the teacher's
// eventloop/metrics.go Metrics/LatencyMetrics pair, retargeted from
// JS-tick latency to task-poll latency and work-stealing attempt latency,
// since corewake has no single "tick" but does have those two hot paths.
type Metrics struct {
	enabled bool

	Poll  LatencyMetrics
	Steal LatencyMetrics

	// GlobalQueueDepth is sampled opportunistically by workers as they
	// check the global overflow queue; advisory only, per globalqueue.go's
	// Len doc comment.
	GlobalQueueDepth QueueDepthMetrics
}

// LatencyMetrics tracks a latency distribution using the P² streaming
// quantile estimator (psquare.go), exactly the algorithm and field shape the
// teacher's own LatencyMetrics uses.
type LatencyMetrics struct {
	mu      sync.Mutex
	psquare *pSquareMultiQuantile
	count   int64
	sum     time.Duration
}

func (l *LatencyMetrics) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(d))
	l.count++
	l.sum += d
}

// Snapshot returns the currently estimated percentiles and mean. Safe to
// call concurrently with ongoing record calls; the returned values reflect
// some consistent point in time, not necessarily "now".
func (l *LatencyMetrics) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 || l.psquare == nil {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: l.count,
		P50:   time.Duration(l.psquare.Quantile(0)),
		P90:   time.Duration(l.psquare.Quantile(1)),
		P95:   time.Duration(l.psquare.Quantile(2)),
		P99:   time.Duration(l.psquare.Quantile(3)),
		Max:   time.Duration(l.psquare.Max()),
		Mean:  l.sum / time.Duration(l.count),
	}
}

// LatencySnapshot is a point-in-time read of a LatencyMetrics estimator.
type LatencySnapshot struct {
	Count int64
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// QueueDepthMetrics tracks an exponential moving average of an observed
// queue depth, mirroring the teacher's QueueMetrics.UpdateIngress shape
// (alpha=0.1, warm-started to the first observation).
type QueueDepthMetrics struct {
	mu          sync.Mutex
	current     int
	max         int
	avg         float64
	initialized bool
}

func (q *QueueDepthMetrics) update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current = depth
	if depth > q.max {
		q.max = depth
	}
	if !q.initialized {
		q.avg = float64(depth)
		q.initialized = true
	} else {
		q.avg = 0.9*q.avg + 0.1*float64(depth)
	}
}

// Snapshot returns the current, max, and EMA-smoothed queue depth.
func (q *QueueDepthMetrics) Snapshot() (current, max int, avg float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.max, q.avg
}

func (m *Metrics) startPoll() time.Time {
	if m == nil || !m.enabled {
		return time.Time{}
	}
	return time.Now()
}

func (m *Metrics) observePoll(start time.Time) {
	if m == nil || !m.enabled || start.IsZero() {
		return
	}
	m.Poll.record(time.Since(start))
}

func (m *Metrics) startSteal() time.Time {
	if m == nil || !m.enabled {
		return time.Time{}
	}
	return time.Now()
}

func (m *Metrics) observeSteal(start time.Time) {
	if m == nil || !m.enabled || start.IsZero() {
		return
	}
	m.Steal.record(time.Since(start))
}

func (m *Metrics) observeGlobalQueueDepth(depth int) {
	if m == nil || !m.enabled {
		return
	}
	m.GlobalQueueDepth.update(depth)
}
