// Package notify fans store mutations out to registered listeners.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Kind is the type of change a store reports.
type Kind string

const (
	Added   Kind = "added"
	Deleted Kind = "deleted"
	Updated Kind = "updated"
)

// Event describes one successful mutation. ID is the affected video or
// channel id, or empty when the whole store changed.
type Event struct {
	Topic string `json:"topic"`
	Kind  Kind   `json:"kind"`
	ID    string `json:"id,omitempty"`
}

// Listener receives events synchronously on the mutating goroutine.
type Listener func(Event)

// Registry holds the listeners of one store. Callers must Unregister when
// they go away; the registry keeps listeners alive until then.
type Registry struct {
	topic     string
	mu        sync.RWMutex
	listeners map[uuid.UUID]Listener
}

// NewRegistry creates a registry whose events carry topic.
func NewRegistry(topic string) *Registry {
	return &Registry{
		topic:     topic,
		listeners: make(map[uuid.UUID]Listener),
	}
}

// Topic returns the store name used in events.
func (r *Registry) Topic() string {
	return r.topic
}

// Register adds l and returns the handle needed to remove it.
func (r *Registry) Register(l Listener) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.listeners[id] = l
	r.mu.Unlock()
	return id
}

// Unregister removes a listener. It reports whether the handle was known.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[id]; !ok {
		return false
	}
	delete(r.listeners, id)
	return true
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Notify calls every listener with the event. Listeners run without the
// registry lock held, so they may register or unregister.
func (r *Registry) Notify(kind Kind, id string) {
	r.mu.RLock()
	snapshot := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	r.mu.RUnlock()

	ev := Event{Topic: r.topic, Kind: kind, ID: id}
	for _, l := range snapshot {
		l(ev)
	}
}
