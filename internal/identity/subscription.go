package identity

import "sync"

const subscriptionBuffer = 16

// Subscription is a cancellable stream of session-change events. Events are
// delivered in emission order; a slow consumer drops rather than blocks the
// emitter. Cancel deregisters the subscriber and closes the event channel.
type Subscription struct {
	id         int64
	mu         sync.Mutex
	closed     bool
	events     chan Event
	deregister func()
}

// Events returns the receive side of the subscription stream. The channel is
// closed once the subscription is cancelled.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel deregisters the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.deregister != nil {
		s.deregister()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *Subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// broadcaster fans session-change events out to active subscriptions.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[int64]*Subscription
	nextID      int64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[int64]*Subscription)}
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	subscription := &Subscription{
		id:     b.nextID,
		events: make(chan Event, subscriptionBuffer),
	}
	subscription.deregister = func() {
		b.mu.Lock()
		delete(b.subscribers, subscription.id)
		b.mu.Unlock()
	}
	b.subscribers[subscription.id] = subscription
	return subscription
}

func (b *broadcaster) publish(event Event) {
	b.mu.Lock()
	copies := make([]*Subscription, 0, len(b.subscribers))
	for _, subscription := range b.subscribers {
		copies = append(copies, subscription)
	}
	b.mu.Unlock()

	for _, subscription := range copies {
		subscription.send(event)
	}
}
