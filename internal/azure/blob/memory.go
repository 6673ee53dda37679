package blob

import (
	"context"
	"fmt"
	"sync"
)

type memObject struct {
	contentType string
	data        []byte
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Upload(_ context.Context, name, contentType string, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memObject{contentType: contentType, data: copied}
	return nil
}

func (m *Memory) Download(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", name, ErrNotFound)
	}
	copied := make([]byte, len(obj.data))
	copy(copied, obj.data)
	return copied, nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("blob %s: %w", name, ErrNotFound)
	}
	delete(m.objects, name)
	return nil
}

// ContentType reports the stored content type, mainly for tests.
func (m *Memory) ContentType(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[name].contentType
}

// Len reports the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
