package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage is an in-memory storage backend.
type MemoryStorage struct {
	entities      map[int64]*EntityData
	categoryIndex map[string][]int64 // category -> entity IDs
	mu            sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entities:      make(map[int64]*EntityData),
		categoryIndex: make(map[string][]int64),
	}
}

// Store persists an entity to memory.
func (m *MemoryStorage) Store(e *EntityData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.entities[e.ID]

	// Update category index if the category changed
	if exists && existing.Category != e.Category {
		m.removeFromCategoryIndex(existing.Category, e.ID)
	}

	m.entities[e.ID] = e.Clone()

	if !exists || existing.Category != e.Category {
		m.categoryIndex[e.Category] = append(m.categoryIndex[e.Category], e.ID)
	}

	return nil
}

// Load retrieves an entity from memory.
func (m *MemoryStorage) Load(id int64) (*EntityData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %d not found", id)
	}

	return e.Clone(), nil
}

// Delete removes an entity from memory.
func (m *MemoryStorage) Delete(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return nil // Already deleted
	}

	m.removeFromCategoryIndex(e.Category, id)
	delete(m.entities, id)
	return nil
}

// removeFromCategoryIndex removes an entity from its category's index.
func (m *MemoryStorage) removeFromCategoryIndex(category string, id int64) {
	ids := m.categoryIndex[category]
	for i, eid := range ids {
		if eid == id {
			m.categoryIndex[category] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.categoryIndex[category]) == 0 {
		delete(m.categoryIndex, category)
	}
}

// ListCategory gets all entities of one category, ordered by ID.
func (m *MemoryStorage) ListCategory(category string) ([]*EntityData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.categoryIndex[category]
	result := make([]*EntityData, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entities[id]; ok {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Exists checks if an entity exists.
func (m *MemoryStorage) Exists(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[id]
	return ok
}

// MaxID returns the highest stored entity ID.
func (m *MemoryStorage) MaxID() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var max int64
	for id := range m.entities {
		if id > max {
			max = id
		}
	}
	return max, nil
}

// Clear removes all data.
func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entities = make(map[int64]*EntityData)
	m.categoryIndex = make(map[string][]int64)
	return nil
}

// BeginTransaction starts an atomic operation.
func (m *MemoryStorage) BeginTransaction() (Transaction, error) {
	return &memoryTransaction{storage: m}, nil
}

// Close closes the storage backend.
func (m *MemoryStorage) Close() error {
	return nil
}

// Count returns the number of stored entities.
func (m *MemoryStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// memoryTransaction implements Transaction for MemoryStorage.
type memoryTransaction struct {
	storage   *MemoryStorage
	stores    []*EntityData
	deletes   []int64
	committed bool
}

// Store queues an entity to be stored.
func (tx *memoryTransaction) Store(e *EntityData) error {
	if tx.committed {
		return fmt.Errorf("transaction already committed")
	}
	tx.stores = append(tx.stores, e)
	return nil
}

// Delete queues an entity to be deleted.
func (tx *memoryTransaction) Delete(id int64) error {
	if tx.committed {
		return fmt.Errorf("transaction already committed")
	}
	tx.deletes = append(tx.deletes, id)
	return nil
}

// Commit applies all queued operations.
func (tx *memoryTransaction) Commit() error {
	if tx.committed {
		return fmt.Errorf("transaction already committed")
	}
	tx.committed = true

	for _, e := range tx.stores {
		if err := tx.storage.Store(e); err != nil {
			return err
		}
	}
	for _, id := range tx.deletes {
		if err := tx.storage.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards all queued operations.
func (tx *memoryTransaction) Rollback() error {
	tx.committed = true
	tx.stores = nil
	tx.deletes = nil
	return nil
}
