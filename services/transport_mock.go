package services

import (
	"context"
	"sync"
)

// SentEmail is one call recorded by MockEmailTransport
type SentEmail struct {
	To      []string
	Subject string
	Body    string
}

// MockEmailTransport records emails; FailNext makes the next n sends fail
type MockEmailTransport struct {
	sent     []SentEmail
	attempts int
	failNext int
	err      error
	mu       sync.Mutex
}

// NewMockEmailTransport creates a new mock email transport
func NewMockEmailTransport() *MockEmailTransport {
	return &MockEmailTransport{}
}

// FailNext makes the next n calls return err
func (m *MockEmailTransport) FailNext(n int, err error) {
	m.mu.Lock()
	m.failNext = n
	m.err = err
	m.mu.Unlock()
}

// Send records the email unless a failure is queued
func (m *MockEmailTransport) Send(ctx context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.failNext > 0 {
		m.failNext--
		return m.err
	}
	m.sent = append(m.sent, SentEmail{To: append([]string(nil), to...), Subject: subject, Body: body})
	return nil
}

// Sent returns the recorded emails
func (m *MockEmailTransport) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}

// Attempts counts every Send call, failed ones included
func (m *MockEmailTransport) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// MockPushTransport records push batches; FailNext makes the next n batches fail
type MockPushTransport struct {
	batches  [][]PushMessage
	failNext int
	err      error
	block    chan struct{}
	mu       sync.Mutex
}

// NewMockPushTransport creates a new mock push transport
func NewMockPushTransport() *MockPushTransport {
	return &MockPushTransport{}
}

// FailNext makes the next n calls return err
func (m *MockPushTransport) FailNext(n int, err error) {
	m.mu.Lock()
	m.failNext = n
	m.err = err
	m.mu.Unlock()
}

// BlockUntil makes SendBatch wait for release or for its context to end
func (m *MockPushTransport) BlockUntil(release chan struct{}) {
	m.mu.Lock()
	m.block = release
	m.mu.Unlock()
}

// SendBatch records the batch unless a failure is queued
func (m *MockPushTransport) SendBatch(ctx context.Context, messages []PushMessage) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return m.err
	}
	m.batches = append(m.batches, append([]PushMessage(nil), messages...))
	return nil
}

// Batches returns the recorded batches
func (m *MockPushTransport) Batches() [][]PushMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]PushMessage(nil), m.batches...)
}
