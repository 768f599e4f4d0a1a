package cart

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SessionStore, used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]map[int64]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: map[string]map[int64]int{}}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]int{}
	for id, qty := range m.carts[sessionID] {
		out[id] = qty
	}
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, items map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(items) == 0 {
		delete(m.carts, sessionID)
		return nil
	}
	cp := make(map[int64]int, len(items))
	for id, qty := range items {
		cp[id] = qty
	}
	m.carts[sessionID] = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}
