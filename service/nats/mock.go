package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu          sync.RWMutex
	submissions []*SubmissionEvent
	awaits      []*AwaitEvent
	publishErr  error
	closed      bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishSubmission records the event and returns any configured error.
func (m *MockPublisher) PublishSubmission(ctx context.Context, event *SubmissionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.submissions = append(m.submissions, event)
	return nil
}

// PublishAwait records the event and returns any configured error.
func (m *MockPublisher) PublishAwait(ctx context.Context, event *AwaitEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.awaits = append(m.awaits, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SubmissionEvents returns a copy of all published submission events.
func (m *MockPublisher) SubmissionEvents() []*SubmissionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*SubmissionEvent, len(m.submissions))
	copy(events, m.submissions)
	return events
}

// AwaitEvents returns a copy of all published await events.
func (m *MockPublisher) AwaitEvents() []*AwaitEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*AwaitEvent, len(m.awaits))
	copy(events, m.awaits)
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = nil
	m.awaits = nil
	m.publishErr = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
