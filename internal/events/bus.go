// Package events provides a typed in-process publish/subscribe bus.
// Components broadcast lifecycle signals (shop opened, session ready,
// upload progress) through the bus instead of ambient global events;
// subscribers hold an explicit cancel function for their lifetime.
package events

import (
	"errors"
	"sync"
	"time"
)

// Topic names a category of events
type Topic string

const (
	TopicShopOpen       Topic = "shop-open"
	TopicSessionReady   Topic = "session-ready"
	TopicUploadProgress Topic = "upload-progress"
	TopicBatchSettled   Topic = "batch-settled"
	TopicOrderCreated   Topic = "order-created"
)

// Event is one published message
type Event struct {
	Topic   Topic       `json:"topic"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// ErrBusClosed is returned when subscribing to a closed bus
var ErrBusClosed = errors.New("event bus is closed")

type subscriber struct {
	id int
	ch chan Event
}

// Bus fans events out to topic subscribers. Delivery is best-effort:
// a subscriber whose buffer is full misses the event rather than
// blocking the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[Topic][]subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscriber)}
}

// Subscribe registers for a topic and returns the receive channel plus
// a cancel function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Event, func(), error) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}

	b.nextID++
	sub := subscriber{id: b.nextID, ch: make(chan Event, buffer)}
	b.subs[topic] = append(b.subs[topic], sub)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == sub.id {
					b.subs[topic] = append(list[:i], list[i+1:]...)
					close(s.ch)
					return
				}
			}
		})
	}
	return sub.ch, cancel, nil
}

// Publish delivers an event to every subscriber of its topic.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	ev := Event{Topic: topic, Payload: payload, At: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber, drop rather than block the publisher
		}
	}
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, list := range b.subs {
		for _, s := range list {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
}
