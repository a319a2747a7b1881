package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryRower is the subset of pgxpool.Pool used by PostgresStore.
type QueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps counters in the rate_limit_counters table.
// The upsert takes the row lock on conflict, so concurrent callers on one key
// are serialized by PostgreSQL and no increment is lost.
type PostgresStore struct {
	pool QueryRower
}

// NewPostgresStore creates a PostgresStore with the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreWithPool creates a PostgresStore with a custom pool interface.
// This is primarily used for testing.
func NewPostgresStoreWithPool(pool QueryRower) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const incrementCounterSQL = `
INSERT INTO rate_limit_counters (key, window_start, count)
VALUES ($1, $2, 1)
ON CONFLICT (key) DO UPDATE SET
	window_start = CASE
		WHEN rate_limit_counters.window_start + $3::float8 * interval '1 second' <= EXCLUDED.window_start
		THEN EXCLUDED.window_start
		ELSE rate_limit_counters.window_start
	END,
	count = CASE
		WHEN rate_limit_counters.window_start + $3::float8 * interval '1 second' <= EXCLUDED.window_start
		THEN 1
		ELSE rate_limit_counters.count + 1
	END
RETURNING window_start, count`

// Increment implements Store.
func (s *PostgresStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Counter, error) {
	var c Counter
	err := s.pool.QueryRow(ctx, incrementCounterSQL, key, now, window.Seconds()).Scan(&c.WindowStart, &c.Count)
	if err != nil {
		return Counter{}, fmt.Errorf("increment rate limit counter %s: %w", key, err)
	}
	return c, nil
}
