package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*LaunchEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*LaunchEvent, 0),
	}
}

// PublishLaunchEvent records the event and returns any configured error.
func (m *MockPublisher) PublishLaunchEvent(ctx context.Context, event *LaunchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*LaunchEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*LaunchEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetStages returns the stages of all published events in order.
func (m *MockPublisher) GetStages() []Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stages := make([]Stage, 0, len(m.publishedEvents))
	for _, event := range m.publishedEvents {
		stages = append(stages, event.Stage)
	}
	return stages
}

// SetPublishError configures the mock to return an error on PublishLaunchEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
