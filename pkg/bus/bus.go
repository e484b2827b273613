package bus

import "sync"

const defaultBufferSize = 100

// EventBus fans analysis lifecycle events out to subscribers.
type EventBus struct {
	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// Done is closed once the bus is closed.
func (eb *EventBus) Done() <-chan struct{} {
	return eb.done
}

func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		close(eb.done)

		eb.mu.Lock()
		for id, ch := range eb.eventSubscribers {
			close(ch)
			delete(eb.eventSubscribers, id)
		}
		eb.mu.Unlock()
	})
}
