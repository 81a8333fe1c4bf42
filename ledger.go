package tutorgate

import (
	"context"
	"fmt"
	"time"
)

// DenyReason names the quota that rejected a request.
type DenyReason string

const (
	DenyNone     DenyReason = ""
	DenyRequests DenyReason = "requests"
	DenyTokens   DenyReason = "tokens"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	RetryAfter time.Duration
	// ResetAt is when the denying window resets, or when the request window
	// resets for an admitted request.
	ResetAt           time.Time
	RemainingRequests int64
	RemainingTokens   int64
	// FailedOpen is set when the counter store was unreachable and the
	// request was admitted anyway (QuotaConfig.FailOpen).
	FailedOpen bool
}

// RateLimit returns the status fields surfaced to the caller.
func (d Decision) RateLimit() RateLimitStatus {
	return RateLimitStatus{
		RemainingRequests: d.RemainingRequests,
		RemainingTokens:   d.RemainingTokens,
		ResetAt:           d.ResetAt,
	}
}

// QuotaStatus reports a user's current consumption.
type QuotaStatus struct {
	RequestsUsed      int64
	RequestLimit      int64
	RemainingRequests int64
	RequestsResetAt   time.Time
	TokensUsed        int64
	TokenLimit        int64
	RemainingTokens   int64
	TokensResetAt     time.Time
}

// Ledger tracks per-user request and token consumption against rolling
// windows kept in a shared CounterStore. It holds no quota state itself, so
// any number of Ledgers over the same store agree.
type Ledger struct {
	store CounterStore
	cfg   QuotaConfig
	meter Meter
	now   func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerMeter sets the meter that receives quota events.
func WithLedgerMeter(m Meter) LedgerOption {
	return func(l *Ledger) { l.meter = m }
}

// WithLedgerClock overrides the clock used to compute retry-after durations.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger over store.
func NewLedger(store CounterStore, cfg QuotaConfig, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("tutorgate: ledger: counter store is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.meter == nil {
		l.meter = &noopMeter{}
	}
	return l, nil
}

func (l *Ledger) requestKey(userID string) string { return l.cfg.KeyPrefix + "requests:" + userID }
func (l *Ledger) tokenKey(userID string) string   { return l.cfg.KeyPrefix + "tokens:" + userID }

// Check admits or denies a request for userID. An admitted request consumes
// one unit of request quota immediately, whatever happens to it afterwards.
// Token quota is only read here; it is consumed by Commit.
func (l *Ledger) Check(ctx context.Context, userID string) (Decision, error) {
	tokens, err := l.store.Get(ctx, l.tokenKey(userID))
	if err != nil {
		return l.storeFailure(ctx, userID, "check tokens", err)
	}

	if tokens.Value >= l.cfg.TokensPerWindow {
		reqs, err := l.store.Get(ctx, l.requestKey(userID))
		if err != nil {
			return l.storeFailure(ctx, userID, "check requests", err)
		}
		d := l.deny(DenyTokens, tokens.ResetAt)
		d.RemainingRequests = remaining(l.cfg.RequestsPerWindow, reqs.Value)
		l.emit(userID, d, nil)
		return d, nil
	}

	reqs, err := l.store.IncrementWithExpiry(ctx, l.requestKey(userID), 1, l.cfg.RequestWindow)
	if err != nil {
		return l.storeFailure(ctx, userID, "admit", err)
	}

	if reqs.Value > l.cfg.RequestsPerWindow {
		d := l.deny(DenyRequests, reqs.ResetAt)
		d.RemainingTokens = remaining(l.cfg.TokensPerWindow, tokens.Value)
		l.emit(userID, d, nil)
		return d, nil
	}

	d := Decision{
		Allowed:           true,
		ResetAt:           reqs.ResetAt,
		RemainingRequests: remaining(l.cfg.RequestsPerWindow, reqs.Value),
		RemainingTokens:   remaining(l.cfg.TokensPerWindow, tokens.Value),
	}
	l.emit(userID, d, nil)
	return d, nil
}

// Commit records the tokens consumed by a successful completion.
func (l *Ledger) Commit(ctx context.Context, userID string, tokensUsed int64) error {
	if tokensUsed <= 0 {
		return nil
	}
	c, err := l.store.IncrementWithExpiry(ctx, l.tokenKey(userID), tokensUsed, l.cfg.TokenWindow)
	event := QuotaEvent{
		UserID:            userID,
		Allowed:           true,
		RemainingRequests: -1,
		RemainingTokens:   remaining(l.cfg.TokensPerWindow, c.Value),
		ResetAt:           c.ResetAt,
		Committed:         tokensUsed,
	}
	if err != nil {
		err = fmt.Errorf("tutorgate: quota commit: %w", err)
		event.RemainingTokens = -1
		event.Error = err
	}
	l.meter.OnQuota(event)
	return err
}

// Status returns the user's consumption in both windows without consuming quota.
func (l *Ledger) Status(ctx context.Context, userID string) (QuotaStatus, error) {
	reqs, err := l.store.Get(ctx, l.requestKey(userID))
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("tutorgate: quota status: %w", err)
	}
	tokens, err := l.store.Get(ctx, l.tokenKey(userID))
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("tutorgate: quota status: %w", err)
	}

	return QuotaStatus{
		RequestsUsed:      reqs.Value,
		RequestLimit:      l.cfg.RequestsPerWindow,
		RemainingRequests: remaining(l.cfg.RequestsPerWindow, reqs.Value),
		RequestsResetAt:   reqs.ResetAt,
		TokensUsed:        tokens.Value,
		TokenLimit:        l.cfg.TokensPerWindow,
		RemainingTokens:   remaining(l.cfg.TokensPerWindow, tokens.Value),
		TokensResetAt:     tokens.ResetAt,
	}, nil
}

func (l *Ledger) deny(reason DenyReason, resetAt time.Time) Decision {
	retryAfter := resetAt.Sub(l.now())
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		Reason:     reason,
		RetryAfter: retryAfter,
		ResetAt:    resetAt,
	}
}

// storeFailure handles a counter store error. Context errors always
// propagate so a cancelled request never proceeds.
func (l *Ledger) storeFailure(ctx context.Context, userID, op string, err error) (Decision, error) {
	if ctx.Err() != nil || !l.cfg.FailOpen {
		err = fmt.Errorf("tutorgate: quota %s: %w", op, err)
		l.emit(userID, Decision{}, err)
		return Decision{}, err
	}

	d := Decision{
		Allowed:           true,
		FailedOpen:        true,
		RemainingRequests: -1,
		RemainingTokens:   -1,
	}
	l.emit(userID, d, err)
	return d, nil
}

func (l *Ledger) emit(userID string, d Decision, err error) {
	l.meter.OnQuota(QuotaEvent{
		UserID:            userID,
		Allowed:           d.Allowed,
		Reason:            d.Reason,
		RemainingRequests: d.RemainingRequests,
		RemainingTokens:   d.RemainingTokens,
		ResetAt:           d.ResetAt,
		FailedOpen:        d.FailedOpen,
		Error:             err,
	})
}

func remaining(limit, used int64) int64 {
	if used >= limit {
		return 0
	}
	return limit - used
}
