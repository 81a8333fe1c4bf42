// Package mock provides scripted collaborators for tests and examples: a
// completion Provider, an Embedder and a VectorIndex.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/tutorgate"
)

// Provider is a mock completion provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	hang         bool
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	mu           sync.Mutex
	script       []error
	usage        tutorgate.Usage
	content      string
	responseFunc func(tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error)
}

var _ tutorgate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    "mock",
		content: "Hello from mock provider",
		usage: tutorgate.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithContent sets the completion text.
func WithContent(s string) Option {
	return func(p *Provider) { p.content = s }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithHang makes every call block until its context is done.
func WithHang() Option {
	return func(p *Provider) { p.hang = true }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithErrors makes the first len(errs) calls return errs in order; later
// calls succeed. A nil entry is a successful call.
func WithErrors(errs ...error) Option {
	return func(p *Provider) { p.script = errs }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u tutorgate.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error) {
	count := p.callCount.Add(1)

	if p.hang {
		<-ctx.Done()
		return tutorgate.ProviderResponse{}, ctx.Err()
	}
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return tutorgate.ProviderResponse{}, ctx.Err()
		}
	}

	if p.staticErr != nil {
		return tutorgate.ProviderResponse{}, p.staticErr
	}

	p.mu.Lock()
	var scripted error
	if len(p.script) > 0 {
		scripted, p.script = p.script[0], p.script[1:]
	}
	p.mu.Unlock()
	if scripted != nil {
		return tutorgate.ProviderResponse{}, scripted
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return tutorgate.ProviderResponse{}, tutorgate.ErrProviderUnavailable
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return tutorgate.ProviderResponse{
		ID:           "mock-response-id",
		Content:      p.content,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }
