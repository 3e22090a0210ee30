// Package bus provides event bus implementations for Latchkey.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey-dev/latchkey/internal/domain"
)

// route identifies a delivery target by family and topic. A struct key
// keeps family isolation structural rather than relying on a delimiter.
type route struct {
	family string
	topic  string
}

// ChannelBus is the Community tier event bus: in-process fan-out over
// buffered Go channels, one delivery goroutine per subscription.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[route][]*chanSub
	closed     bool
}

type chanSub struct {
	id         string
	route      route
	handler    domain.MessageHandler
	deliveries chan *domain.Message
	ctx        context.Context
	cancel     context.CancelFunc
	bus        *ChannelBus
}

// NewChannelBus creates a channel-based event bus with the given
// per-subscription buffer size.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route][]*chanSub),
	}
}

// Publish delivers a message to every subscriber on the family's topic.
// A subscriber whose buffer is full misses the message rather than
// blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, familyID string, topic string, payload []byte) error {
	if familyID == "" {
		return fmt.Errorf("familyID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := append([]*chanSub(nil), b.routes[route{familyID, topic}]...)
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		FamilyID:  familyID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range targets {
		select {
		case sub.deliveries <- msg:
		case <-sub.ctx.Done():
		default:
		}
	}

	return nil
}

// Subscribe registers a handler for a family's topic. The handler runs
// on a dedicated goroutine until the subscription is cancelled.
func (b *ChannelBus) Subscribe(ctx context.Context, familyID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if familyID == "" {
		return nil, fmt.Errorf("familyID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		id:         uuid.New().String(),
		route:      route{familyID, topic},
		handler:    handler,
		deliveries: make(chan *domain.Message, b.bufferSize),
		ctx:        subCtx,
		cancel:     cancel,
		bus:        b,
	}

	b.routes[sub.route] = append(b.routes[sub.route], sub)
	go sub.deliver()

	return sub, nil
}

// deliver drains the subscription's buffer into its handler.
func (s *chanSub) deliver() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.deliveries:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request publishes to a topic and waits for one reply on a unique
// reply topic.
func (b *ChannelBus) Request(ctx context.Context, familyID string, topic string, payload []byte) ([]byte, error) {
	if familyID == "" {
		return nil, fmt.Errorf("familyID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, familyID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, familyID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.routes = make(map[route][]*chanSub)
	return nil
}

// remove detaches a subscription from the fan-out table so publishers
// stop offering it messages.
func (b *ChannelBus) remove(target *chanSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.routes[target.route]
	for i, sub := range subs {
		if sub.id == target.id {
			b.routes[target.route] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.routes[target.route]) == 0 {
		delete(b.routes, target.route)
	}
}

// Unsubscribe stops delivery and detaches from the bus.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.route.topic
}
