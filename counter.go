package tutorgate

import (
	"context"
	"time"
)

// CounterStore is a shared store of expiring counters. Implementations must
// make IncrementWithExpiry atomic per key across every process sharing the
// store: two concurrent increments never observe the same resulting value.
type CounterStore interface {
	// IncrementWithExpiry adds amount to key and returns the new value. The
	// window starts on the first increment; once ttl has elapsed since the
	// window start the counter restarts from zero before amount is added.
	IncrementWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (Counter, error)

	// Get returns the current value of key. A missing or expired key reads as zero.
	Get(ctx context.Context, key string) (Counter, error)
}

// Counter is a counter value with the instant its window resets.
// ResetAt is zero when the key has no active window.
type Counter struct {
	Value   int64
	ResetAt time.Time
}
