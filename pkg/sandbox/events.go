package sandbox

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType labels a lifecycle transition.
type EventType string

const (
	EventCreated     EventType = "created"
	EventReconnected EventType = "reconnected"
	EventReapedIdle  EventType = "reaped_idle"
	EventReapedAge   EventType = "reaped_age"
	EventClosed      EventType = "closed"
)

// Event is one lifecycle transition of a tenant's sandbox.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	SandboxID string    `json:"sandbox_id"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEventID() string {
	return uuid.New().String()
}

// Feed fans lifecycle events out to subscribers. Publishing never
// blocks: a subscriber that falls behind loses events rather than
// stalling the manager.
type Feed struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func releases the
// subscription and closes the channel.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	id := uuid.New().String()

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its
// buffer.
func (f *Feed) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Close drops all subscriptions.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
