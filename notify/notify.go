// Package notify carries change announcements between contexts. The sync
// engines broadcast after every successful remote write; interested parties
// subscribe and re-read their caches.
package notify

import (
	"context"
	"sync"
)

// ActionDataUpdated announces that a collection changed remotely and local
// readers should reload.
const ActionDataUpdated = "dataUpdated"

// Message is one broadcast announcement.
type Message struct {
	Action     string `json:"action"`
	Collection string `json:"collection,omitempty"`
}

// Notifier publishes announcements. Implementations must not block the
// caller on slow consumers.
type Notifier interface {
	Broadcast(ctx context.Context, msg Message) error
}

// Bus is the in-process Notifier. Subscribers that fall behind lose
// messages rather than stalling the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Message)}
}

// Subscribe registers a consumer. The returned cancel function removes the
// subscription and closes its channel.
func (b *Bus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *Bus) Broadcast(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default: // drop for lagging subscribers
		}
	}
	return nil
}

// Close drops all subscriptions. Further broadcasts are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
