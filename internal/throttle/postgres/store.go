// Package postgres backs the generation throttle with a shared counter
// row, so several service instances divide one generation ceiling.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	ensureTableStmt = `CREATE TABLE IF NOT EXISTS throttle_slots (
    name TEXT PRIMARY KEY,
    held INTEGER NOT NULL DEFAULT 0
)`

	tryAcquireStmt = `INSERT INTO throttle_slots (name, held) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET held = throttle_slots.held + 1
WHERE throttle_slots.held < $2`

	releaseStmt = `UPDATE throttle_slots SET held = GREATEST(held - 1, 0) WHERE name = $1`
)

// Store implements throttle.SlotStore on a single counter row. The
// conditional upsert gives the compare-and-increment step: the insert
// or increment only lands while the held count is below the ceiling.
type Store struct {
	db   *sql.DB
	name string
}

func New(db *sql.DB, name string) *Store {
	if name == "" {
		name = "generation"
	}
	return &Store{db: db, name: name}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ensureTableStmt); err != nil {
		return fmt.Errorf("ensure throttle_slots table: %w", err)
	}
	return nil
}

func (s *Store) TryAcquire(ctx context.Context, ceiling int) (bool, error) {
	result, err := s.db.ExecContext(ctx, tryAcquireStmt, s.name, ceiling)
	if err != nil {
		return false, fmt.Errorf("acquire throttle slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire throttle slot: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) Release(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, releaseStmt, s.name); err != nil {
		return fmt.Errorf("release throttle slot: %w", err)
	}
	return nil
}
