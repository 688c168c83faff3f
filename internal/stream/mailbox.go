package stream

import (
	"sync"

	"genplane/pkg/api"
)

// mailbox hands messages from bus listeners to the stream writer. Push never
// blocks, so a slow client cannot stall the emitting goroutine, and messages
// come out in the order they went in.
type mailbox struct {
	mu    sync.Mutex
	queue []api.StreamMessage
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg api.StreamMessage) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []api.StreamMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.queue
	m.queue = nil
	return out
}
