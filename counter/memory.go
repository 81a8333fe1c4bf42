// Package counter provides an in-process CounterStore.
//
// The memory store is linearizable per key within one process. It does not
// share state across instances; use counter/redis or counter/postgres when
// several orchestrators admit requests for the same users.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ineyio/tutorgate"
)

const shardCount = 64

// MemoryStore is an in-memory CounterStore with lazy window reset.
type MemoryStore struct {
	shards [shardCount]shard
	now    func() time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*window
}

type window struct {
	value int64
	start time.Time
	ttl   time.Duration
}

var _ tutorgate.CounterStore = (*MemoryStore)(nil)

// Option configures MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the clock used for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].counters = make(map[string]*window)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shard(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// IncrementWithExpiry adds amount to key, restarting the window first when
// ttl has elapsed since it started.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (tutorgate.Counter, error) {
	if err := ctx.Err(); err != nil {
		return tutorgate.Counter{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	w, ok := sh.counters[key]
	if !ok || now.Sub(w.start) >= w.ttl {
		w = &window{start: now, ttl: ttl}
		sh.counters[key] = w
	}
	w.value += amount

	return tutorgate.Counter{Value: w.value, ResetAt: w.start.Add(w.ttl)}, nil
}

// Get returns the current value of key; an expired window reads as zero.
func (s *MemoryStore) Get(ctx context.Context, key string) (tutorgate.Counter, error) {
	if err := ctx.Err(); err != nil {
		return tutorgate.Counter{}, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.counters[key]
	if !ok {
		return tutorgate.Counter{}, nil
	}
	if s.now().Sub(w.start) >= w.ttl {
		delete(sh.counters, key)
		return tutorgate.Counter{}, nil
	}
	return tutorgate.Counter{Value: w.value, ResetAt: w.start.Add(w.ttl)}, nil
}

// Len returns the number of live windows, including expired ones not yet
// touched since expiry.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].counters)
		s.shards[i].mu.Unlock()
	}
	return n
}
