package saga

import (
	"context"
	"sync"
)

// InMemoryStore — это потокобезопасная реализация Store в памяти.
// Используется в тестах и как хранилище по умолчанию для одного процесса.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewInMemoryStore создает новое хранилище саг в памяти.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Insert сохраняет новую сагу.
func (s *InMemoryStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Load загружает сагу по идентификатору.
func (s *InMemoryStore) Load(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

// Update обновляет состояние и ассоциации существующей саги.
func (s *InMemoryStore) Update(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return ErrNotFound
	}
	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Delete удаляет сагу и все ее ассоциации.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// FindByAssociation возвращает идентификаторы саг указанного типа,
// связанных с данной ассоциацией.
func (s *InMemoryStore) FindByAssociation(ctx context.Context, sagaType string, association AssociationValue) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for _, entry := range s.entries {
		if entry.SagaType != sagaType {
			continue
		}
		for _, a := range entry.Associations {
			if a == association {
				ids = append(ids, entry.ID)
				break
			}
		}
	}
	return ids, nil
}

// copyEntry возвращает независимую копию записи.
func copyEntry(entry *Entry) *Entry {
	copied := *entry
	copied.Payload = append([]byte(nil), entry.Payload...)
	copied.Associations = append([]AssociationValue(nil), entry.Associations...)
	return &copied
}
