package objstore

import (
	"context"
	"fmt"
	"sync"

	"docintel/types"
)

type object struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. Used by the CLI dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]object)}
}

func (m *MemoryStore) Get(ctx context.Context, container, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[container+"/"+key]
	if !ok {
		return nil, types.InvalidInput(types.StageStorage, fmt.Sprintf("object %s/%s not found", container, key))
	}
	out := make([]byte, len(o.data))
	copy(out, o.data)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, container, key string, data []byte, contentType string) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	m.objects[container+"/"+key] = object{data: buf, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ContentType(container, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[container+"/"+key].contentType
}
