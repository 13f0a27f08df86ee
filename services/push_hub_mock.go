package services

import (
	"context"
	"sync"
)

// EmittedEvent is one call recorded by MockPushHub
type EmittedEvent struct {
	Event   string
	Payload interface{}
	UserIDs []uint
	RoomID  uint
}

// MockPushHub records emitted events for testing
type MockPushHub struct {
	events []EmittedEvent
	mu     sync.RWMutex
}

// NewMockPushHub creates a new mock push hub
func NewMockPushHub() *MockPushHub {
	return &MockPushHub{}
}

// EmitToUsers records a user-targeted event
func (m *MockPushHub) EmitToUsers(ctx context.Context, event string, payload interface{}, userIDs []uint) error {
	ids := append([]uint(nil), userIDs...)
	m.mu.Lock()
	m.events = append(m.events, EmittedEvent{Event: event, Payload: payload, UserIDs: ids})
	m.mu.Unlock()
	return nil
}

// EmitToRoom records a room-targeted event
func (m *MockPushHub) EmitToRoom(ctx context.Context, event string, payload interface{}, roomID uint) error {
	m.mu.Lock()
	m.events = append(m.events, EmittedEvent{Event: event, Payload: payload, RoomID: roomID})
	m.mu.Unlock()
	return nil
}

// Events returns the recorded events with the given name
func (m *MockPushHub) Events(event string) []EmittedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EmittedEvent
	for _, e := range m.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
