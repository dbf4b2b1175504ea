package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBuffer = 100

// filteredWait bounds how long Publish waits on a full filtered subscriber.
const filteredWait = time.Second

type subscriber struct {
	ch    chan Event
	types map[Type]struct{}
}

func (s subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	buffer      int
}

func NewBus() *InMemoryBus {
	return NewBusWithBuffer(defaultBuffer)
}

func NewBusWithBuffer(buffer int) *InMemoryBus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &InMemoryBus{
		subscribers: make(map[string]subscriber),
		buffer:      buffer,
	}
}

// Publish fans e out to every interested subscriber. Unfiltered subscribers
// that are full lose the event at once; filtered ones get up to filteredWait
// for room first.
func (b *InMemoryBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !sub.wants(e.Type) {
			continue
		}

		select {
		case sub.ch <- e:
			continue
		default:
		}

		if len(sub.types) > 0 {
			timer := time.NewTimer(filteredWait)
			select {
			case sub.ch <- e:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		slog.Warn("event dropped, subscriber buffer full", "event_id", e.ID, "type", e.Type, "subscriber", id)
	}
}

// Subscribe returns a channel of events of the given types, or of every type
// when none are given.
func (b *InMemoryBus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{ch: make(chan Event, b.buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	id := uuid.NewString()
	b.subscribers[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, exists := b.subscribers[id]; exists {
			close(sub.ch)
			delete(b.subscribers, id)
		}
	}

	return sub.ch, unsubscribe
}
