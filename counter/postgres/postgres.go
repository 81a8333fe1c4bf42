// Package postgres provides a PostgreSQL-backed CounterStore for tutorgate.
//
// Counters live in a single table. Each increment is one UPSERT statement
// that resets an elapsed window and adds the amount under the row lock, so
// concurrent increments from any number of instances never lose an update.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/tutorgate"
)

// Store is a PostgreSQL-backed CounterStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var _ tutorgate.CounterStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "tutorgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithClock overrides the clock used for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new PostgreSQL-backed CounterStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "tutorgate_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) countersTable() string { return s.tablePrefix + "counters" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value BIGINT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			ttl_ms BIGINT NOT NULL
		);
	`, s.countersTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("tutorgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// IncrementWithExpiry adds amount to key and returns the new value.
// SET expressions read the pre-update row, so the three CASEs agree.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (tutorgate.Counter, error) {
	now := s.now().UTC()

	var (
		value int64
		start time.Time
		ttlMs int64
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS c (key, value, window_start, ttl_ms)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE SET
				value = CASE WHEN c.window_start + c.ttl_ms * interval '1 millisecond' <= $3
					THEN $2 ELSE c.value + $2 END,
				window_start = CASE WHEN c.window_start + c.ttl_ms * interval '1 millisecond' <= $3
					THEN $3 ELSE c.window_start END,
				ttl_ms = CASE WHEN c.window_start + c.ttl_ms * interval '1 millisecond' <= $3
					THEN $4 ELSE c.ttl_ms END
			RETURNING value, window_start, ttl_ms`, s.countersTable()),
		key, amount, now, ttl.Milliseconds(),
	).Scan(&value, &start, &ttlMs)
	if err != nil {
		return tutorgate.Counter{}, fmt.Errorf("tutorgate/postgres: increment: %w", err)
	}

	return tutorgate.Counter{
		Value:   value,
		ResetAt: start.Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}

// Get returns the current value of key.
func (s *Store) Get(ctx context.Context, key string) (tutorgate.Counter, error) {
	var (
		value int64
		start time.Time
		ttlMs int64
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT value, window_start, ttl_ms FROM %s WHERE key = $1`, s.countersTable()),
		key,
	).Scan(&value, &start, &ttlMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return tutorgate.Counter{}, nil
	}
	if err != nil {
		return tutorgate.Counter{}, fmt.Errorf("tutorgate/postgres: get: %w", err)
	}

	// Lazy reset check (read-only).
	resetAt := start.Add(time.Duration(ttlMs) * time.Millisecond)
	if !s.now().Before(resetAt) {
		return tutorgate.Counter{}, nil
	}
	return tutorgate.Counter{Value: value, ResetAt: resetAt}, nil
}

// Cleanup removes counters whose window has elapsed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE window_start + ttl_ms * interval '1 millisecond' <= $1`, s.countersTable()),
		s.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("tutorgate/postgres: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
