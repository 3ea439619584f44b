package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryDocumentStorage keeps documents in process memory. Used in
// development and tests when no S3-compatible backend is available.
type MemoryDocumentStorage struct {
	mu        sync.RWMutex
	objects   map[string][]byte
	keyPrefix string
}

// NewMemoryDocumentStorage creates an empty in-memory store.
func NewMemoryDocumentStorage(keyPrefix string) *MemoryDocumentStorage {
	return &MemoryDocumentStorage{
		objects:   make(map[string][]byte),
		keyPrefix: keyPrefix,
	}
}

// ErrObjectNotFound is returned by Get when no object exists under the key.
var ErrObjectNotFound = errors.New("object not found")

// Put stores a copy of the document bytes under the given key.
func (s *MemoryDocumentStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf
	return nil
}

// Get returns the document stored under the given key.
func (s *MemoryDocumentStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("storage key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Exists reports whether an object exists under the given key.
func (s *MemoryDocumentStorage) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("storage key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes the object stored under the given key.
func (s *MemoryDocumentStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// ObjectKey builds the canonical storage key for an uploaded document.
func (s *MemoryDocumentStorage) ObjectKey(tenantID, checksum, filename string) string {
	return ObjectKey(s.keyPrefix, tenantID, checksum, filename)
}

// Size returns the number of stored objects.
func (s *MemoryDocumentStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
