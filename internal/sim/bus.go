package sim

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"

	"workyard-sim/internal/logging"
	"workyard-sim/internal/telemetry"
)

// DefaultBusCapacity bounds how many events wait for slow writers.
const DefaultBusCapacity = 65536

// Bus decouples the tick loop from event writers. Publish never blocks;
// when the buffer is full the oldest events are dropped and counted.
type Bus struct {
	mu       sync.Mutex
	buf      deque.Deque[telemetry.Event]
	capacity int
	notify   chan struct{}
	writer   EventWriter
	dropped  atomic.Uint64
	written  atomic.Uint64
}

// NewBus creates a bus delivering to writer.
func NewBus(writer EventWriter, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{capacity: capacity, writer: writer, notify: make(chan struct{}, 1)}
}

// Publish queues events for delivery.
func (b *Bus) Publish(events []telemetry.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	for _, ev := range events {
		if b.buf.Len() >= b.capacity {
			b.buf.PopFront()
			b.dropped.Add(1)
		}
		b.buf.PushBack(ev)
	}
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded on overflow.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Written returns how many events reached the writer.
func (b *Bus) Written() uint64 { return b.written.Load() }

// Pending returns the number of buffered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *Bus) take() []telemetry.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]telemetry.Event, 0, b.buf.Len())
	for b.buf.Len() > 0 {
		out = append(out, b.buf.PopFront())
	}
	return out
}

// Flush delivers everything buffered on the calling goroutine.
func (b *Bus) Flush(ctx context.Context) {
	events := b.take()
	if len(events) == 0 || b.writer == nil {
		return
	}
	if err := writeEvents(b.writer, events); err != nil {
		logging.FromContext(ctx).Error("event write failed", "events", len(events), "err", err)
		return
	}
	b.written.Add(uint64(len(events)))
}

// Run delivers events until ctx is done, then flushes what is left.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-b.notify:
			b.Flush(ctx)
		case <-ctx.Done():
			b.Flush(context.WithoutCancel(ctx))
			return
		}
	}
}
