package tutorgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Link is one provider of the fallback chain.
type Link struct {
	Name     string
	Provider Provider
	Model    string
	Auth     Auth
	// Timeout bounds each try against this link. Zero means no per-try bound
	// beyond the caller's deadline.
	Timeout time.Duration
	// Limiter is an optional client-side rate limit. An empty bucket is
	// treated like a rate-limit signal from the provider.
	Limiter *rate.Limiter
}

// NewLimiter returns the client-side limiter for a chain entry, or nil when
// cfg sets no rate limit.
func NewLimiter(cfg LinkConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}

// Gateway sends prompts to an ordered chain of providers, retrying transient
// failures locally and falling back to the next provider when one is exhausted.
type Gateway struct {
	links  []Link
	retry  RetryPolicy
	policy Policy
	health *HealthTracker
	meter  Meter
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRetryPolicy sets the local retry policy.
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p }
}

// WithPolicy sets the chain ordering policy.
func WithPolicy(p Policy) GatewayOption {
	return func(g *Gateway) { g.policy = p }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) GatewayOption {
	return func(g *Gateway) { g.health = h }
}

// WithGatewayMeter sets the meter that receives attempt events.
func WithGatewayMeter(m Meter) GatewayOption {
	return func(g *Gateway) { g.meter = m }
}

// NewGateway creates a Gateway over links, tried in the given order unless a
// Policy reorders them. Health is tracked either way; only a health-aware
// Policy such as policy.HealthFirstPolicy acts on it.
func NewGateway(links []Link, opts ...GatewayOption) (*Gateway, error) {
	if len(links) == 0 {
		return nil, ErrNoProviders
	}

	links = append([]Link(nil), links...)
	names := make(map[string]bool, len(links))
	for i, l := range links {
		if l.Provider == nil {
			return nil, fmt.Errorf("tutorgate: gateway: link %d: provider is required", i)
		}
		if l.Name == "" {
			links[i].Name = l.Provider.Name()
		}
		if names[links[i].Name] {
			return nil, fmt.Errorf("tutorgate: gateway: duplicate link name %q", links[i].Name)
		}
		names[links[i].Name] = true
	}

	g := &Gateway{
		links:  links,
		health: NewHealthTracker(),
	}
	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	g.retry = g.retry.withDefaults()
	if err := g.retry.Validate(); err != nil {
		return nil, err
	}
	if g.policy == nil {
		g.policy = &defaultConfigOrderPolicy{}
	}
	if g.meter == nil {
		g.meter = &noopMeter{}
	}

	return g, nil
}

// Complete sends prompt down the chain and returns the first successful
// completion. A non-transient provider error aborts the chain with a
// *ProviderError; exhausting every link returns an *ExhaustedError; the
// caller's deadline or cancellation returns a *TimeoutError.
func (g *Gateway) Complete(ctx context.Context, prompt []Message, params Params) (Completion, error) {
	if len(prompt) == 0 {
		return Completion{}, fmt.Errorf("%w: empty prompt", ErrInvalidInput)
	}

	ordered := g.policy.Select(buildCandidates(g.links, g.health))

	var attempts []ProviderAttempt
	for pos, c := range ordered {
		if err := ctx.Err(); err != nil {
			return Completion{}, &TimeoutError{Stage: StageGenerating, Err: err, Attempts: attempts}
		}

		attempt, resp := g.attempt(ctx, pos, c.Link, prompt, params)
		attempts = append(attempts, attempt)

		if attempt.Status == AttemptSucceeded {
			usage := resp.Usage
			if usage.TotalTokens == 0 {
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
			model := resp.Model
			if model == "" {
				model = c.Link.Model
			}
			return Completion{
				Text:         resp.Content,
				FinishReason: resp.FinishReason,
				Usage:        usage,
				Provider:     c.Link.Name,
				Model:        model,
				Attempts:     attempts,
			}, nil
		}

		if err := ctx.Err(); err != nil {
			return Completion{}, &TimeoutError{Stage: StageGenerating, Err: err, Attempts: attempts}
		}

		if IsFatal(attempt.Err) {
			return Completion{}, &ProviderError{
				Err:      attempt.Err,
				Provider: c.Link.Name,
				Model:    c.Link.Model,
				Attempts: attempts,
			}
		}
	}

	return Completion{}, &ExhaustedError{Attempts: attempts}
}

// attempt runs the local retry loop against one link.
func (g *Gateway) attempt(ctx context.Context, pos int, link Link, prompt []Message, params Params) (ProviderAttempt, ProviderResponse) {
	a := ProviderAttempt{
		ID:       uuid.NewString(),
		Provider: link.Name,
		Model:    link.Model,
		Status:   AttemptPending,
	}
	req := ProviderRequest{
		Auth:     link.Auth,
		Model:    link.Model,
		Messages: prompt,
		Params:   params,
	}

	start := time.Now()
	var (
		resp    ProviderResponse
		lastErr error
	)
	for try := 1; try <= g.retry.Tries(); try++ {
		if try > 1 {
			if err := sleep(ctx, g.retry.Delay(try-1)); err != nil {
				break
			}
		}
		a.Tries = try

		resp, lastErr = g.try(ctx, link, req)
		if lastErr == nil || !retryLocally(lastErr) || ctx.Err() != nil {
			break
		}
	}
	a.Latency = time.Since(start)
	a.Err = lastErr

	switch {
	case lastErr == nil:
		a.Status = AttemptSucceeded
		g.health.RecordSuccess(link.Name)
	case errors.Is(lastErr, context.DeadlineExceeded):
		a.Status = AttemptTimedOut
	default:
		a.Status = AttemptFailed
	}
	// A cancelled caller says nothing about the provider's health.
	if a.Failed() && ctx.Err() == nil {
		g.health.RecordFailure(link.Name)
	}

	g.meter.OnAttempt(AttemptEvent{
		Provider: link.Name,
		Model:    link.Model,
		Position: pos + 1,
		Status:   a.Status,
		Tries:    a.Tries,
		Duration: a.Latency,
		Usage:    resp.Usage,
		Error:    lastErr,
	})

	return a, resp
}

// try performs a single provider call under the link's timeout.
func (g *Gateway) try(ctx context.Context, link Link, req ProviderRequest) (ProviderResponse, error) {
	if link.Limiter != nil && !link.Limiter.Allow() {
		return ProviderResponse{}, fmt.Errorf("%w: client-side limit for %s", ErrRateLimited, link.Name)
	}

	tctx := ctx
	if link.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, link.Timeout)
		defer cancel()
	}

	resp, err := link.Provider.Generate(tctx, req)
	if err != nil {
		// Normalise per-try deadlines so they classify as timeouts whatever the
		// adapter wrapped them in.
		if tctx.Err() != nil && ctx.Err() == nil {
			return ProviderResponse{}, fmt.Errorf("tutorgate: %s timed out after %s: %w", link.Name, link.Timeout, context.DeadlineExceeded)
		}
		if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
			return ProviderResponse{}, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return ProviderResponse{}, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return ProviderResponse{}, ErrEmptyResponse
	}
	return resp, nil
}

// retryLocally reports whether err is worth another try against the same link.
// Timeouts advance the chain straight away.
func retryLocally(err error) bool {
	return IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
}
