package realtime

import (
	"slices"
	"sync"
)

// Broker is an in-process Feed. Handlers run synchronously on the publishing
// goroutine, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]brokerSub
}

type brokerSub struct {
	topic   Topic
	handler Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]brokerSub)}
}

// Subscribe registers handler for topic.
func (b *Broker) Subscribe(topic Topic, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = brokerSub{topic: topic, handler: handler}
	return &brokerSubscription{broker: b, id: id}, nil
}

// Publish delivers ev to every matching subscriber.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		b.mu.RLock()
		sub, ok := b.subs[id]
		b.mu.RUnlock()
		if ok && sub.topic.Matches(ev) {
			sub.handler(ev)
		}
	}
}

// Len returns the number of open subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type brokerSubscription struct {
	broker *Broker
	id     int
	once   sync.Once
}

func (s *brokerSubscription) Unsubscribe() {
	s.once.Do(func() { s.broker.remove(s.id) })
}
