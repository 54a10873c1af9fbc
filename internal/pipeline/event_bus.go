package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for per-frame results
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	onlyInferred bool // Deliver only frames where the detector ran
	channel      chan *FrameResult
	handler      ResultHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for all frame results
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeInferred registers a handler that only sees frames where inference ran
func (b *EventBus) SubscribeInferred(handler ResultHandler) func() {
	return b.add(&eventSubscription{handler: handler, onlyInferred: true})
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives frame results
// The channel has the specified buffer size; results are skipped when it is full
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *FrameResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *FrameResult, bufferSize)
	sub := &eventSubscription{
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends a frame result to all subscribers
func (b *EventBus) Publish(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.onlyInferred && !result.Inferred {
			continue
		}

		// Handlers run synchronously to preserve frame ordering
		if sub.handler != nil {
			sub.handler.OnFrameResult(result)
		} else if sub.channel != nil {
			select {
			case sub.channel <- result:
			default:
				// Channel full, skip this result
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(result *FrameResult)

// OnFrameResult implements ResultHandler
func (f ResultHandlerFunc) OnFrameResult(result *FrameResult) {
	f(result)
}

var _ ResultHandler = ResultHandlerFunc(nil)
