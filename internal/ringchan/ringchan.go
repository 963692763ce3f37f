// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel so that producers never block: when the
// buffer is full the oldest element is discarded.
//
//	rc := ringchan.New[StatusEvent](64)
//	rc.ForceSend(ev)          // never blocks
//	for ev := range rc.C() {} // reader side is a plain channel
//
// Sends after Close are dropped instead of panicking, so producers that outlive
// the consumer (late BLE callbacks) are harmless.
type RingChannel[T any] struct {
	ch      chan T
	mu      sync.RWMutex // guards sends against Close
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Reads through C() are not
// counted in Metrics.Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend inserts v without blocking. Returns false if the buffer is full or
// the channel is closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed {
		return false
	}

	select {
	case rc.ch <- v:
		rc.metrics.add(&rc.metrics.Written)
		return true
	default:
		return false
	}
}

// ForceSend inserts v, discarding the oldest element if needed. Returns true
// if an element was dropped (or v itself, when the channel is closed).
func (rc *RingChannel[T]) ForceSend(v T) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.closed {
		rc.metrics.add(&rc.metrics.Overwritten)
		return true
	}

	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.metrics.add(&rc.metrics.Written)
			return dropped
		default:
		}
		// A concurrent reader may empty the buffer between the two selects,
		// so the drop is best-effort and the loop retries the send.
		select {
		case <-rc.ch:
			rc.metrics.add(&rc.metrics.Overwritten)
			dropped = true
		default:
		}
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.add(&rc.metrics.Processed)
		}
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts channel traffic. All fields are updated atomically.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
}

func (m *Metrics) add(counter *int64) {
	atomic.AddInt64(counter, 1)
}
