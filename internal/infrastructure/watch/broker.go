// Package watch carries the live-query plumbing shared by the store adapters:
// change notification, retry of broken listeners and the subscription handle
// returned to callers.
package watch

import "sync"

// Broker fans change signals out to listeners of a topic. Signals coalesce:
// a listener that has not drained its channel sees one pending signal no
// matter how many publishes happened, which is enough because watchers
// re-read the full snapshot on every signal.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*Listener]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[*Listener]struct{})}
}

type Listener struct {
	broker *Broker
	topic  string
	c      chan struct{}
	once   sync.Once
}

// Listen registers interest in topic. Register before reading the snapshot
// so a write landing in between is not missed.
func (b *Broker) Listen(topic string) *Listener {
	l := &Listener{broker: b, topic: topic, c: make(chan struct{}, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Listener]struct{})
	}
	b.topics[topic][l] = struct{}{}
	return l
}

func (b *Broker) Publish(topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		for l := range b.topics[topic] {
			select {
			case l.c <- struct{}{}:
			default:
			}
		}
	}
}

// Listeners returns the number of listeners on topic.
func (b *Broker) Listeners(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (l *Listener) C() <-chan struct{} {
	return l.c
}

func (l *Listener) Close() {
	l.once.Do(func() {
		b := l.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topics[l.topic], l)
		if len(b.topics[l.topic]) == 0 {
			delete(b.topics, l.topic)
		}
	})
}
