package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryTable is an in-process Table. Records are stored as JSON so that
// mutations made by callers after Insert or Get never leak into the table.
type MemoryTable[T any] struct {
	kind  string
	idOf  IDFunc[T]
	mu    sync.RWMutex
	rows  map[string][]byte
	order []string
}

// NewMemoryTable creates an empty table for records of kind.
func NewMemoryTable[T any](kind string, idOf IDFunc[T]) *MemoryTable[T] {
	return &MemoryTable[T]{kind: kind, idOf: idOf, rows: make(map[string][]byte)}
}

// Get returns a copy of the record with id.
func (t *MemoryTable[T]) Get(_ context.Context, id string) (*T, error) {
	t.mu.RLock()
	data, ok := t.rows[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
	}
	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", t.kind, id, err)
	}
	return &record, nil
}

// Insert stores a copy of record, generating an id when empty.
func (t *MemoryTable[T]) Insert(_ context.Context, record *T) error {
	id := t.idOf(record)
	if *id == "" {
		*id = uuid.NewString()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.kind, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.rows[*id]; exists {
		return fmt.Errorf("%s %s: %w", t.kind, *id, ErrDuplicate)
	}
	t.rows[*id] = data
	t.order = append(t.order, *id)
	return nil
}

// Update replaces the stored copy of record.
func (t *MemoryTable[T]) Update(_ context.Context, record *T) error {
	id := *t.idOf(record)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.kind, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.rows[id]; !exists {
		return fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
	}
	t.rows[id] = data
	return nil
}

// List returns copies of all records in insertion order.
func (t *MemoryTable[T]) List(_ context.Context) ([]T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	records := make([]T, 0, len(t.order))
	for _, id := range t.order {
		var record T
		if err := json.Unmarshal(t.rows[id], &record); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", t.kind, id, err)
		}
		records = append(records, record)
	}
	return records, nil
}
