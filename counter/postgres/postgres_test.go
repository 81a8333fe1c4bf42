//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/tutorgate"
	counterpg "github.com/ineyio/tutorgate/counter/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/tutorgate_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool, opts ...counterpg.Option) *counterpg.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := counterpg.New(pool, append([]counterpg.Option{counterpg.WithTablePrefix(prefix)}, opts...)...)

	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %scounters", prefix))
	})
	return s
}

func TestIncrementAndGet(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	c, err := store.IncrementWithExpiry(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Value)

	c, err = store.IncrementWithExpiry(ctx, "k", 4, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Value)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Value)
	assert.Equal(t, c.ResetAt.UnixMilli(), got.ResetAt.UnixMilli())
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t, newTestPool(t))

	c, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, tutorgate.Counter{}, c)
}

func TestWindowResetAndCleanup(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := newTestStore(t, newTestPool(t), counterpg.WithClock(clock))
	ctx := context.Background()

	_, err := store.IncrementWithExpiry(ctx, "a", 5, time.Minute)
	require.NoError(t, err)
	_, err = store.IncrementWithExpiry(ctx, "b", 5, time.Minute)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Value)

	c, err := store.IncrementWithExpiry(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Value)

	n, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConcurrentIncrement(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	const workers = 50
	var (
		wg   sync.WaitGroup
		seen sync.Map
		dups atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := store.IncrementWithExpiry(ctx, "k", 1, time.Hour)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if _, loaded := seen.LoadOrStore(c.Value, true); loaded {
				dups.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, dups.Load(), "two increments observed the same value")
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Value)
}
