package event

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskforge/internal/model"
)

// Type identifies a task lifecycle event
type Type string

const (
	TypeScheduled Type = "scheduled"
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeCancelled Type = "cancelled"
)

// Event carries a full task snapshot to subscribers
type Event struct {
	Type Type        `json:"type"`
	Task *model.Task `json:"task"`
	At   time.Time   `json:"at"`
}

// Handler receives events on a subscriber's drain goroutine
type Handler func(Event)

// subscriberBuffer bounds each subscriber's queue. Delivery is best-effort:
// a full buffer drops the event rather than blocking the scheduler.
const subscriberBuffer = 64

type subscription struct {
	eventType Type // empty matches all types
	ch        chan Event
}

// Bus is an in-process observer bus for task lifecycle events
type Bus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   []*subscription
	wg     sync.WaitGroup
	closed bool
}

// NewBus creates an event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("event-bus"),
	}
}

// Subscribe registers a handler for a single event type
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) {
	b.add("", handler)
}

func (b *Bus) add(eventType Type, handler Handler) {
	sub := &subscription{
		eventType: eventType,
		ch:        make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range sub.ch {
			handler(evt)
		}
	}()
}

// Publish delivers the event to matching subscribers without ever blocking
func (b *Bus) Publish(eventType Type, task *model.Task) {
	evt := Event{
		Type: eventType,
		Task: task,
		At:   time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.eventType != "" && sub.eventType != eventType {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("event_type", string(eventType)),
				zap.String("task_id", task.ID))
		}
	}
}

// Close stops delivery and waits for subscriber goroutines to drain
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	b.wg.Wait()
}
