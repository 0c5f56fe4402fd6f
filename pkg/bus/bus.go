package bus

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 100

type EventType string

const (
	EventMessageReceived    EventType = "message_received"
	EventResponderClaimed   EventType = "responder_claimed"
	EventRespondersReloaded EventType = "responders_reloaded"
	EventAgentReplied       EventType = "agent_replied"
	EventAgentFailed        EventType = "agent_failed"
	EventRestartRequested   EventType = "restart_requested"
)

// Event is one bridge lifecycle notification.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	ChatID     string            `json:"chat_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// MessageBus fans bridge lifecycle events out to subscribers.
//
// Publishing never blocks: events to slow subscribers are dropped.
type MessageBus struct {
	subscribers      map[uint64]chan Event
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

func (mb *MessageBus) Publish(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.subscribers))
	for _, ch := range mb.subscribers {
		subs = append(subs, ch)
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (mb *MessageBus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextSubscriberID
	mb.nextSubscriberID++
	mb.subscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.subscribers[id]; ok {
				delete(mb.subscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.subscribers {
			close(ch)
			delete(mb.subscribers, id)
		}
		mb.mu.Unlock()
	})
}
