package events

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a bus is created with a non-positive capacity
const DefaultCapacity = 1024

// Bus is a bounded, overwrite-oldest event queue with a single consumer.
//
// Producers never block: when the buffer is full the oldest event is discarded.
// Emit after Close is a silent no-op, so late notifications from the radio stack
// during shutdown cannot panic.
//
//	bus := events.NewBus(256)
//	bus.Emit(events.StatusChanged{Status: "Connecting..."})
//
//	for ev := range bus.C() {
//	    // handle ev
//	}
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool

	metrics Metrics
}

// Metrics holds lock-free counters for a Bus
type Metrics struct {
	Written     int64
	Overwritten int64
	Dropped     int64
}

// NewBus creates a bus with the given capacity
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// C returns the receive side. It is closed by Close.
func (b *Bus) C() <-chan Event {
	return b.ch
}

// Emit inserts an event, discarding the oldest one if the buffer is full.
// Returns true if an older event was overwritten.
func (b *Bus) Emit(ev Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		atomic.AddInt64(&b.metrics.Dropped, 1)
		return false
	}

	overwritten := false
	select {
	case b.ch <- ev:
	default:
		select {
		case <-b.ch: // drop oldest
			atomic.AddInt64(&b.metrics.Overwritten, 1)
			overwritten = true
		default:
		}
		b.ch <- ev
	}
	atomic.AddInt64(&b.metrics.Written, 1)

	return overwritten
}

// Close closes the receive channel. Buffered events remain readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Closed reports whether Close has been called
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of buffered events
func (b *Bus) Len() int {
	return len(b.ch)
}

// Cap returns the bus capacity
func (b *Bus) Cap() int {
	return cap(b.ch)
}

// GetMetrics returns a snapshot of the counters
func (b *Bus) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&b.metrics.Written),
		Overwritten: atomic.LoadInt64(&b.metrics.Overwritten),
		Dropped:     atomic.LoadInt64(&b.metrics.Dropped),
	}
}
