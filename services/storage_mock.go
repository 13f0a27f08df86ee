package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockObjectStorage is an in-memory ObjectStorage for testing
type MockObjectStorage struct {
	objects map[string][]byte // map of key to content
	mu      sync.RWMutex
}

// NewMockObjectStorage creates a new mock object storage
func NewMockObjectStorage() *MockObjectStorage {
	return &MockObjectStorage{
		objects: make(map[string][]byte),
	}
}

// PutObject stores body under key
func (m *MockObjectStorage) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	m.mu.Lock()
	m.objects[key] = body
	m.mu.Unlock()
	return nil
}

// PresignGet returns a fake URL for an existing object
func (m *MockObjectStorage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, exists := m.objects[key]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("file not found in mock storage: %s", key)
	}
	return fmt.Sprintf("https://test-bucket.s3.us-east-1.amazonaws.com/%s?mock=true", key), nil
}

// DeleteObject removes key
func (m *MockObjectStorage) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Exists checks if an object exists in mock storage
func (m *MockObjectStorage) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.objects[key]
	return exists
}
