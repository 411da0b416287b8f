package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 256

// MessageBus is an in-process EventPublisher. Each subscriber gets a
// bounded queue drained by its own goroutine; Broadcast never blocks.
// When a subscriber's queue is full the event is dropped for that
// subscriber and a counter is incremented.
type MessageBus struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	queueSize int
	dropped   atomic.Int64
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// NewMessageBus creates a bus with the given per-subscriber queue size.
// size <= 0 uses the default.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &MessageBus{
		subs:      make(map[string]*subscriber),
		queueSize: size,
	}
}

// Subscribe registers a handler under id, replacing any previous
// subscription with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{
		ch:   make(chan Event, b.queueSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				handler(ev)
			case <-sub.done:
				// Drain remaining events before exiting.
				for {
					select {
					case ev := <-sub.ch:
						handler(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Unsubscribe removes a subscription. Queued events are still drained.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}

// Broadcast fans the event out to every subscriber without blocking.
// The drop warning is emitted after the lock is released: the default
// logger may itself be bridged onto this bus, and logging under the
// read lock would re-enter Broadcast while a writer could be queued.
func (b *MessageBus) Broadcast(event Event) {
	var slowID string
	var slowTotal int64
	b.mu.RLock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			if n := b.dropped.Add(1); n%100 == 1 {
				slowID, slowTotal = id, n
			}
		}
	}
	b.mu.RUnlock()
	if slowID != "" {
		slog.Warn("bus: slow subscriber, dropping events", "subscriber", slowID, "dropped_total", slowTotal)
	}
}

// Dropped returns the total number of events dropped across all
// subscribers since the bus was created.
func (b *MessageBus) Dropped() int64 { return b.dropped.Load() }

// Close unsubscribes everyone.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
