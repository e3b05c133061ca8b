// Package events fans engine lifecycle events out to subscribers, feeding
// the websocket event feed. Delivery is best-effort: a subscriber that
// stops draining its channel loses events rather than stalling the engine.
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/pkg/types"
)

// Event types published by the engine.
const (
	TypeMemoryStored        = "memory.stored"
	TypeMemoryReinforced    = "memory.reinforced"
	TypeMemoryContradicted  = "memory.contradicted"
	TypeMemoryArchived      = "memory.archived"
	TypeReflectionCompleted = "reflection.completed"
)

// Event is one engine lifecycle notification. MemoryID and PreviousID are
// set for memory events; Reflection is set for reflection.completed.
type Event struct {
	Type       string               `json:"type"`
	UserID     string               `json:"user_id"`
	MemoryID   string               `json:"memory_id,omitempty"`
	PreviousID string               `json:"previous_id,omitempty"` // Superseded memory on contradictions
	Reflection *types.ReflectReport `json:"reflection,omitempty"`
	At         time.Time            `json:"at"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber this
// far behind is dropped from delivery for the overflowing events.
const subscriberBuffer = 16

// Broadcaster distributes events to any number of subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
	log    *logrus.Entry
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]chan Event),
		log:  logging.Component("events"),
	}
}

// Subscribe registers a new subscriber and returns its event channel and a
// cancel function. The channel is closed on cancel or broadcaster Close.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room. Slow
// subscribers miss the event; they are not waited on.
func (b *Broadcaster) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.WithField("type", event.Type).Debug("subscriber behind, event dropped")
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Attach wires the broadcaster to an engine's lifecycle callbacks. The
// engine surface is an interface so tests can attach to a fake.
func (b *Broadcaster) Attach(svc CallbackSource) {
	svc.SetOnMemoryStored(func(memoryID, userID string) {
		b.Publish(Event{Type: TypeMemoryStored, UserID: userID, MemoryID: memoryID})
	})
	svc.SetOnMemoryReinforced(func(memoryID, userID string) {
		b.Publish(Event{Type: TypeMemoryReinforced, UserID: userID, MemoryID: memoryID})
	})
	svc.SetOnMemoryContradicted(func(newID, oldID, userID string) {
		b.Publish(Event{Type: TypeMemoryContradicted, UserID: userID, MemoryID: newID, PreviousID: oldID})
	})
	svc.SetOnMemoryArchived(func(memoryID, userID string) {
		b.Publish(Event{Type: TypeMemoryArchived, UserID: userID, MemoryID: memoryID})
	})
	svc.SetOnReflectionCompleted(func(userID string, report types.ReflectReport) {
		b.Publish(Event{Type: TypeReflectionCompleted, UserID: userID, Reflection: &report})
	})
}

// CallbackSource is the engine callback registration surface Attach needs.
type CallbackSource interface {
	SetOnMemoryStored(fn func(memoryID, userID string))
	SetOnMemoryReinforced(fn func(memoryID, userID string))
	SetOnMemoryContradicted(fn func(newID, oldID, userID string))
	SetOnMemoryArchived(fn func(memoryID, userID string))
	SetOnReflectionCompleted(fn func(userID string, report types.ReflectReport))
}
