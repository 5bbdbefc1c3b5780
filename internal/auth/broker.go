package auth

import (
	"sync"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
)

// Broker fans auth events out to subscribers.
type Broker struct {
	mu        sync.Mutex
	next      int
	listeners map[int]session.Listener
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{listeners: make(map[int]session.Listener)}
}

// Subscribe registers fn until the returned subscription is cancelled.
func (b *Broker) Subscribe(fn session.Listener) session.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	return &subscription{broker: b, id: id}
}

// Publish delivers an event to every current subscriber. Listeners run on
// the caller's goroutine, outside the broker lock.
func (b *Broker) Publish(event session.Event, sess *model.Session) {
	b.mu.Lock()
	ls := make([]session.Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()

	for _, l := range ls {
		l(event, sess)
	}
}

// Len returns the number of active subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

type subscription struct {
	broker *Broker
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.listeners, s.id)
		s.broker.mu.Unlock()
	})
}
