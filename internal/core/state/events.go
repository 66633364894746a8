package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// DefaultSubscriberQueue is the per-subscriber event buffer.
const DefaultSubscriberQueue = 256

// Subscription is one event subscriber queue. Events that do not fit
// the queue are dropped for that subscriber only.
type Subscription struct {
	C <-chan domain.Event

	ch      chan domain.Event
	bus     *eventBus
	id      uint64
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns the number of events dropped for a slow subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

type eventBus struct {
	nodename string
	now      func() time.Time

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func newEventBus(nodename string, now func() time.Time) *eventBus {
	return &eventBus{
		nodename: nodename,
		now:      now,
		subs:     make(map[uint64]*Subscription),
	}
}

func (b *eventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscribe registers a new subscriber queue. queue <= 0 uses
// DefaultSubscriberQueue.
func (s *DaemonState) Subscribe(queue int) *Subscription {
	if queue <= 0 {
		queue = DefaultSubscriberQueue
	}
	b := s.events
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := make(chan domain.Event, queue)
	sub := &Subscription{C: ch, ch: ch, bus: b, id: b.nextID}
	b.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of open subscriptions.
func (s *DaemonState) Subscribers() int {
	s.events.mu.RLock()
	defer s.events.mu.RUnlock()
	return len(s.events.subs)
}

// Publish pushes an event to every current subscriber.
func (s *DaemonState) Publish(kind, path string, data map[string]any) domain.Event {
	b := s.events
	ev := domain.Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Node:      b.nodename,
		Path:      path,
		Data:      data,
		Timestamp: b.now(),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
	return ev
}
