package webdisplay

import (
	"sync"

	"github.com/or-samples/tracking-web/internal/logger"
)

// broadcaster fans values out to subscribers. Slow subscribers miss values
// instead of blocking the publisher.
type broadcaster[T any] struct {
	name   string
	buffer int

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newBroadcaster[T any](name string, buffer int) *broadcaster[T] {
	return &broadcaster[T]{
		name:    name,
		buffer:  buffer,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client. The channel is closed on Unsubscribe or Close.
func (b *broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Count returns the number of subscribers.
func (b *broadcaster[T]) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish offers v to every subscriber and returns how many took it.
func (b *broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, ch := range b.clients {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
