package tutorgate_test

import (
	"context"
	"sync"
	"time"

	tg "github.com/ineyio/tutorgate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMeter keeps every event it receives.
type recordingMeter struct {
	mu         sync.Mutex
	quota      []tg.QuotaEvent
	retrievals []tg.RetrievalEvent
	attempts   []tg.AttemptEvent
	requests   []tg.RequestEvent
}

func (m *recordingMeter) OnQuota(e tg.QuotaEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = append(m.quota, e)
}

func (m *recordingMeter) OnRetrieval(e tg.RetrievalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals = append(m.retrievals, e)
}

func (m *recordingMeter) OnAttempt(e tg.AttemptEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, e)
}

func (m *recordingMeter) OnRequest(e tg.RequestEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, e)
}

func (m *recordingMeter) quotaEvents() []tg.QuotaEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tg.QuotaEvent(nil), m.quota...)
}

func (m *recordingMeter) attemptEvents() []tg.AttemptEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tg.AttemptEvent(nil), m.attempts...)
}

func (m *recordingMeter) requestEvents() []tg.RequestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tg.RequestEvent(nil), m.requests...)
}

// brokenStore fails every call with err.
type brokenStore struct{ err error }

func (s brokenStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (tg.Counter, error) {
	return tg.Counter{}, s.err
}

func (s brokenStore) Get(context.Context, string) (tg.Counter, error) {
	return tg.Counter{}, s.err
}
