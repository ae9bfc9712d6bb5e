package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Bus multiplexes events to connected consoles (local + Redis backed).
type Bus struct {
	client  redis.UniversalClient
	logger  *log.Logger
	ch      string
	origin  string
	backlog int

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// Options configure the bus.
type Options struct {
	Client  redis.UniversalClient
	Logger  *log.Logger
	Channel string
	// Backlog is the per-subscriber channel size.
	Backlog int
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// NewBus creates a new event bus. When a Redis client is configured, events
// published by other processes on the same channel are delivered locally.
func NewBus(ctx context.Context, opts Options) *Bus {
	channel := opts.Channel
	if channel == "" {
		channel = "ops-console-events"
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 64
	}
	bus := &Bus{
		client:      opts.Client,
		logger:      opts.Logger,
		ch:          channel,
		origin:      uuid.NewString(),
		backlog:     backlog,
		subscribers: make(map[chan Event]struct{}),
	}
	if bus.client != nil {
		go bus.observeRedis(ctx)
	}
	return bus
}

// Publish broadcasts an event to all local subscribers and Redis.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp == "" {
		evt.Timestamp = FormatTime(time.Now())
	}

	if b.client != nil {
		payload, err := json.Marshal(envelope{Origin: b.origin, Event: evt})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.client.Publish(ctx, b.ch, payload).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}

	b.broadcast(evt)
	return nil
}

// Subscribe registers a subscriber and returns a channel plus a cancel func.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, b.backlog)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Subscribers reports the number of attached local subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			if b.logger != nil {
				b.logger.Printf("events: dropping event %s (subscriber backlog)", evt.ID)
			}
		}
	}
}

func (b *Bus) observeRedis(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.ch)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b.logger != nil {
				b.logger.Printf("events: redis subscriber error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			if b.logger != nil {
				b.logger.Printf("events: invalid payload: %v", err)
			}
			continue
		}
		// Local publishes were already broadcast.
		if env.Origin == b.origin {
			continue
		}
		b.broadcast(env.Event)
	}
}
