package gatt

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest
// semantics. Producers never block: when the buffer is full the oldest
// element is discarded to make room. Readers either range over C() like a
// normal channel or use Receive/TryReceive.
type RingChannel[T any] struct {
	ch      chan T
	metrics RingMetrics
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("gatt: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until it is closed. Reads via C() are not counted in metrics.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered element if the
// buffer is full. It never blocks indefinitely.
func (rc *RingChannel[T]) Send(v T) {
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch:
			rc.metrics.overwritten.Add(1)
		default:
		}
		rc.ch <- v
	}
	rc.metrics.written.Add(1)
}

// TrySend attempts a non-blocking insert. Returns false if the buffer is
// full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
// The ok result is false if the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.processed.Add(1)
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.processed.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() (written, overwritten, processed int64) {
	return rc.metrics.written.Load(), rc.metrics.overwritten.Load(), rc.metrics.processed.Load()
}

// RingMetrics tracks RingChannel traffic with lock-free counters.
type RingMetrics struct {
	written     atomic.Int64
	overwritten atomic.Int64
	processed   atomic.Int64
}
