package pipeline

import (
	"sync"

	"github.com/elaravoice/elara-core/core/events"
)

// bus is a lossy broadcast of pipeline events. Each subscriber has a
// bounded buffer; publishing never blocks, so a subscriber that stops
// reading misses events instead of stalling the audio path. Per-producer
// emission order is preserved for subscribers that keep up.
type bus struct {
	mu          sync.Mutex
	subscribers map[int]chan events.Event
	nextID      int
	buffer      int
	closed      bool
}

func newBus(buffer int) *bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &bus{
		subscribers: make(map[int]chan events.Event),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber and returns its channel along
// with a cancel function that must be called to release it.
func (b *bus) Subscribe() (<-chan events.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan events.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room and
// silently drops it for the rest.
func (b *bus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close releases all subscribers. Further publishes are no-ops.
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
