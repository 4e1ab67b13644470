package agent

import (
	"sync"

	"github.com/oshokin/device-update-agent/internal/domain/update"
)

// DefaultEventBuffer is a reasonable subscription buffer for log consumers.
const DefaultEventBuffer = 64

// StatusBus fans status events out to subscribers. Delivery is
// fire-and-forget: a subscriber whose buffer is full loses events rather
// than stalling the state machine, and the engine works fine with no
// subscribers at all.
type StatusBus struct {
	mu          sync.Mutex
	subscribers map[int]chan update.StatusEvent
	nextID      int
}

func newStatusBus() *StatusBus {
	return &StatusBus{
		subscribers: make(map[int]chan update.StatusEvent),
	}
}

// Subscribe registers a listener and returns its event channel along with
// an unsubscribe function. The channel is closed on unsubscribe.
func (b *StatusBus) Subscribe(buffer int) (<-chan update.StatusEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	events := make(chan update.StatusEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = events
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}

	return events, unsubscribe
}

// publish delivers the event to every subscriber without blocking.
func (b *StatusBus) publish(event update.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow consumer, drop the event.
		}
	}
}
