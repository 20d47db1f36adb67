package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("record already exists")
)

// Table is a keyed collection of records of one kind.
// Values are copied on the way in and out; callers never share memory with the store.
type Table[T any] interface {
	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (*T, error)
	// Insert stores a new record, assigning an id when the record has none.
	Insert(ctx context.Context, record *T) error
	// Update replaces an existing record or returns ErrNotFound.
	Update(ctx context.Context, record *T) error
	// List returns all records in insertion order.
	List(ctx context.Context) ([]T, error)
}

// IDFunc exposes the id field of a record.
type IDFunc[T any] func(record *T) *string
