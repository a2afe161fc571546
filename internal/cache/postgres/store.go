// Package postgres is the shared ExactStore, letting several service
// instances serve each other's cached answers.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sqlsage/sqlsage/internal/cache"
)

const (
	ensureTableStmt = `CREATE TABLE IF NOT EXISTS exact_cache (
    key TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
)`

	getStmt = `SELECT payload FROM exact_cache WHERE key = $1 AND expires_at > NOW()`

	setStmt = `INSERT INTO exact_cache (key, payload, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`

	deleteStmt = `DELETE FROM exact_cache WHERE key = $1`

	sweepStmt = `DELETE FROM exact_cache WHERE expires_at <= NOW()`
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ensureTableStmt); err != nil {
		return fmt.Errorf("ensure exact_cache table: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (cache.CachedResult, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, getStmt, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.CachedResult{}, false, nil
	}
	if err != nil {
		return cache.CachedResult{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	var result cache.CachedResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return cache.CachedResult{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return result, true, nil
}

func (s *Store) Set(ctx context.Context, key string, result cache.CachedResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, setStmt, key, payload, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteStmt, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Sweep drops expired rows; meant for a periodic background call.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, sweepStmt)
	if err != nil {
		return 0, fmt.Errorf("sweep cache entries: %w", err)
	}
	return result.RowsAffected()
}
