// Package events routes engine results to in-process subscribers and
// external sinks.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType defines the category of event
type EventType string

const (
	EventTypeSignal     EventType = "signal"
	EventTypeBacktest   EventType = "backtest"
	EventTypeComparison EventType = "comparison"
)

// Event is one engine result. Payload is the JSON-serializable result
// (a LiveSignal, BacktestResult or ComparisonResult).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps a payload with an ID and the current time.
func NewEvent(eventType EventType, symbol string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Handler processes an event
type Handler func(event Event) error

// Subscription represents an active event subscription
type Subscription struct {
	ID        string
	EventType EventType
	handler   Handler
	active    atomic.Bool
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// Stats are the bus counters.
type Stats struct {
	EventsPublished   int64 `json:"events_published"`
	EventsProcessed   int64 `json:"events_processed"`
	EventsDropped     int64 `json:"events_dropped"`
	ProcessingErrors  int64 `json:"processing_errors"`
	ActiveSubscribers int64 `json:"active_subscribers"`
}

// BusConfig configures the event bus
type BusConfig struct {
	Workers    int `mapstructure:"workers" validate:"min=1"`
	BufferSize int `mapstructure:"buffer_size" validate:"min=1"`
}

// DefaultBusConfig returns sensible defaults
func DefaultBusConfig() BusConfig {
	return BusConfig{
		Workers:    2,
		BufferSize: 1024,
	}
}

// Bus fans events out to subscribers from a fixed set of worker goroutines.
// Publish never blocks; when the buffer is full the event is dropped and
// counted.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan chan Event

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewBus creates the bus and starts its workers.
func NewBus(logger *zap.Logger, config BusConfig) *Bus {
	if config.Workers <= 0 {
		config.Workers = DefaultBusConfig().Workers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, config.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("events"),
	}

	for i := 0; i < config.Workers; i++ {
		bus.wg.Add(1)
		go bus.worker()
	}

	bus.logger.Info("Event bus initialized",
		zap.Int("workers", config.Workers),
		zap.Int("buffer_size", config.BufferSize),
	)
	return bus
}

func (b *Bus) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subscribers[event.Type]...)
	subs = append(subs, b.allSubscribers...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			b.execute(sub, event)
		}
	}
	b.eventsProcessed.Add(1)
}

// execute runs a handler with panic recovery
func (b *Bus) execute(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.processingErrors.Add(1)
			b.logger.Error("Event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.handler(event); err != nil {
		b.processingErrors.Add(1)
		b.logger.Warn("Event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	sub := b.newSubscription(eventType, handler)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()

	b.logger.Debug("Subscription added",
		zap.String("id", sub.ID),
		zap.String("event_type", string(eventType)),
	)
	return sub
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	sub := b.newSubscription("*", handler)

	b.mu.Lock()
	b.allSubscribers = append(b.allSubscribers, sub)
	b.mu.Unlock()
	return sub
}

func (b *Bus) newSubscription(eventType EventType, handler Handler) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		EventType: eventType,
		handler:   handler,
	}
	sub.active.Store(true)
	b.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub.active.CompareAndSwap(true, false) {
		b.activeSubscribers.Add(-1)
	}
}

// Publish queues an event. It reports false when the event was dropped.
func (b *Bus) Publish(event Event) bool {
	if b.ctx.Err() != nil {
		b.eventsDropped.Add(1)
		return false
	}
	select {
	case b.eventChan <- event:
		b.eventsPublished.Add(1)
		return true
	default:
		b.eventsDropped.Add(1)
		b.logger.Warn("Event dropped, buffer full",
			zap.String("event_type", string(event.Type)),
			zap.String("symbol", event.Symbol),
		)
		return false
	}
}

// PublishSync delivers an event on the caller's goroutine.
func (b *Bus) PublishSync(event Event) {
	b.eventsPublished.Add(1)
	b.dispatch(event)
}

// Stats returns the current counters
func (b *Bus) Stats() Stats {
	return Stats{
		EventsPublished:   b.eventsPublished.Load(),
		EventsProcessed:   b.eventsProcessed.Load(),
		EventsDropped:     b.eventsDropped.Load(),
		ProcessingErrors:  b.processingErrors.Load(),
		ActiveSubscribers: b.activeSubscribers.Load(),
	}
}

// Close stops the workers, waiting up to five seconds.
func (b *Bus) Close() {
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus stopped",
			zap.Int64("events_processed", b.eventsProcessed.Load()),
			zap.Int64("events_dropped", b.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		b.logger.Warn("Event bus shutdown timed out")
	}
}
