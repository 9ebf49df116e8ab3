// Package event provides a pub/sub bus for server-internal notifications,
// built on watermill's in-process gochannel transport.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type discriminates bus events.
type Type string

const (
	SessionCreated Type = "session.created"
	SessionUpdated Type = "session.updated"
	SessionDeleted Type = "session.deleted"
)

// topic is the single watermill topic all session events flow through.
const topic = "sessions"

// SessionEvent is the payload published for registry-level changes.
type SessionEvent struct {
	Type         Type   `json:"type"`
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	MessageCount int    `json:"messageCount"`
}

// Subscriber receives bus events.
type Subscriber func(ev SessionEvent)

// Bus fans session events out to subscribers. It is explicitly constructed
// and owned by whoever serves connections; there is no package-level
// instance.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	cancel []func()
	closed bool
}

// NewBus creates a bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
	}
}

// Publish sends an event to all subscribers. Delivery is asynchronous.
func (b *Bus) Publish(ev SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	_ = b.pubsub.Publish(topic, msg)
}

// Subscribe registers a subscriber. Returns an unsubscribe function.
// Subscribers are invoked sequentially per subscription, in publish order.
func (b *Bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return func() {}
	}
	b.cancel = append(b.cancel, cancel)

	go func() {
		for msg := range msgs {
			var ev SessionEvent
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				fn(ev)
			}
			msg.Ack()
		}
	}()

	return cancel
}

// Close shuts the bus down and releases all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancel {
		cancel()
	}
	return b.pubsub.Close()
}
