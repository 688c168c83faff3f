// Package events fans out job lifecycle events to in-process listeners.
//
// The bus is not partitioned by job: every listener subscribed to a kind sees
// every event of that kind and filters on JobID itself.
package events

import (
	"encoding/json"
	"sync"

	"genplane/internal/store"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Terminal reports whether the kind ends a job's event stream.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is a single lifecycle event for one job.
type Event struct {
	Kind         Kind               `json:"kind"`
	JobID        uuid.UUID          `json:"jobId"`
	Progress     *store.Progress    `json:"progress,omitempty"`
	ReturnValue  *store.ReturnValue `json:"returnValue,omitempty"`
	FailedReason string             `json:"failedReason,omitempty"`
}

// Marshal encodes the event for relays.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Emitter publishes events. *Bus and the cross-process relays implement it.
type Emitter interface {
	Emit(e Event)
}

// Subscriber registers listeners.
type Subscriber interface {
	Subscribe(kind Kind, l Listener) *Subscription
	Unsubscribe(sub *Subscription)
}

// Listener receives events. It runs on the emitting goroutine and must not block.
type Listener func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id   uint64
	kind Kind
}

// Bus is a process-scoped publish/subscribe hub.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Kind]map[uint64]Listener
	closed    bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[Kind]map[uint64]Listener),
	}
}

// Subscribe registers l for events of kind. The returned subscription must be
// passed to Unsubscribe once the listener is no longer needed.
func (b *Bus) Subscribe(kind Kind, l Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, kind: kind}
	if b.closed {
		return sub
	}

	set, ok := b.listeners[kind]
	if !ok {
		set = make(map[uint64]Listener)
		b.listeners[kind] = set
	}
	set[sub.id] = l
	return sub
}

// Unsubscribe removes a listener. It is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.listeners[sub.kind]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(b.listeners, sub.kind)
		}
	}
}

// Emit delivers e to every listener of its kind, synchronously and in
// subscription-independent order.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	set := b.listeners[e.Kind]
	targets := make([]Listener, 0, len(set))
	for _, l := range set {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		l(e)
	}
}

// ListenerCount returns the number of registered listeners across all kinds.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, set := range b.listeners {
		n += len(set)
	}
	return n
}

// Close drops every listener and ignores later subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.listeners = make(map[Kind]map[uint64]Listener)
}
