package nats

import (
	"context"
	"sync"
)

// MockPublisher records events in memory. Used by tests and when NATS is not configured.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*TransferEvent
	publishError error
	failNext     int
	failNextErr  error
	attempts     int
	closed       bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTransfer records the event and returns any configured error.
func (m *MockPublisher) PublishTransfer(ctx context.Context, event *TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.failNext > 0 {
		m.failNext--
		return m.failNextErr
	}
	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TransferEvent, len(m.events))
	copy(events, m.events)
	return events
}

// EventsForSender returns events published on SubjectFor(sender).
func (m *MockPublisher) EventsForSender(sender string) []*TransferEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*TransferEvent
	for _, event := range m.events {
		if event.Sender == sender {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// FailNext makes the next n publishes return err.
func (m *MockPublisher) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failNextErr = err
}

// Attempts returns how many publishes were attempted, failed ones included.
func (m *MockPublisher) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
