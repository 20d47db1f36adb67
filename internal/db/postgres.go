package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresTable stores records of one kind as JSONB documents in the records table.
type PostgresTable[T any] struct {
	db   *DB
	kind string
	idOf IDFunc[T]
}

// NewPostgresTable creates a table view over db for records of kind.
func NewPostgresTable[T any](db *DB, kind string, idOf IDFunc[T]) *PostgresTable[T] {
	return &PostgresTable[T]{db: db, kind: kind, idOf: idOf}
}

// Get retrieves a record by id
func (t *PostgresTable[T]) Get(ctx context.Context, id string) (*T, error) {
	var data []byte
	err := t.db.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE kind = $1 AND id = $2`,
		t.kind, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", t.kind, id, err)
	}

	var record T
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", t.kind, id, err)
	}
	return &record, nil
}

// Insert creates a record, generating its id when empty
func (t *PostgresTable[T]) Insert(ctx context.Context, record *T) error {
	id := t.idOf(record)
	if *id == "" {
		*id = uuid.NewString()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", t.kind, err)
	}

	tag, err := t.db.pool.Exec(ctx,
		`INSERT INTO records (kind, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, id) DO NOTHING`,
		t.kind, *id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", t.kind, *id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", t.kind, *id, ErrDuplicate)
	}
	return nil
}

// Update replaces an existing record
func (t *PostgresTable[T]) Update(ctx context.Context, record *T) error {
	id := *t.idOf(record)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", t.kind, err)
	}

	tag, err := t.db.pool.Exec(ctx,
		`UPDATE records SET data = $3, updated_at = NOW() WHERE kind = $1 AND id = $2`,
		t.kind, id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", t.kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", t.kind, id, ErrNotFound)
	}
	return nil
}

// List returns every record of this kind, oldest first
func (t *PostgresTable[T]) List(ctx context.Context) ([]T, error) {
	rows, err := t.db.pool.Query(ctx,
		`SELECT data FROM records WHERE kind = $1 ORDER BY created_at, id`,
		t.kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.kind, err)
	}
	defer rows.Close()

	var records []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.kind, err)
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", t.kind, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.kind, err)
	}
	return records, nil
}
