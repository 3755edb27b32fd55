package bus

import (
	"sync"
)

// Topic names a broadcast stream.
type Topic string

const (
	TopicTicks  Topic = "ticks"
	TopicAlerts Topic = "alerts"
)

// Bus is a lightweight in-process pub/sub broker. Publishing never blocks;
// a subscriber that cannot keep up loses messages rather than stalling the
// pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel plus an
// unsubscribe function that also closes it.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[topic] = append(b.subs[topic], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the payload out to current subscribers, dropping for any whose
// buffer is full.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
			// slow subscriber; keep the broker non-blocking
		}
	}
}
