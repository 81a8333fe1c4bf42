// Package app assembles a Tutor and its collaborators from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/compress"
	"github.com/ineyio/tutorgate/expand"
	"github.com/ineyio/tutorgate/meter"
)

// App holds a wired Tutor and the components callers may inspect directly.
type App struct {
	Config   tutorgate.Config
	Tutor    *tutorgate.Tutor
	Ledger   *tutorgate.Ledger
	Sessions *tutorgate.Sessions
	Gateway  *tutorgate.Gateway

	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry prometheus.Registerer
	meters   []tutorgate.Meter
}

// WithLogger sets the logger used by the LogMeter.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry enables Prometheus metrics registered with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithMeters adds meters that receive every event.
func WithMeters(m ...tutorgate.Meter) Option {
	return func(o *options) { o.meters = append(o.meters, m...) }
}

// New builds every component named by cfg. Call Close to release backend
// connections.
func New(ctx context.Context, cfg tutorgate.Config, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := meter.Multi{meter.NewLogMeter(o.logger)}
	if o.registry != nil {
		m = append(m, meter.NewPrometheusMeter(o.registry))
	}
	m = append(m, o.meters...)

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	store, closeStore, err := newCounterStore(ctx, cfg.Counter)
	if err != nil {
		return nil, err
	}
	a.addCloser(closeStore)

	a.Ledger, err = tutorgate.NewLedger(store, cfg.Quota, tutorgate.WithLedgerMeter(m))
	if err != nil {
		return nil, err
	}

	links, err := newLinks(cfg.Gateway.Chain)
	if err != nil {
		return nil, err
	}
	order, err := newPolicy(cfg.Gateway.Policy)
	if err != nil {
		return nil, err
	}
	health := tutorgate.NewHealthTracker()
	gatewayOpts := []tutorgate.GatewayOption{
		tutorgate.WithRetryPolicy(cfg.Gateway.Retry),
		tutorgate.WithPolicy(order),
		tutorgate.WithHealthTracker(health),
		tutorgate.WithGatewayMeter(m),
	}
	a.Gateway, err = tutorgate.NewGateway(links, gatewayOpts...)
	if err != nil {
		return nil, err
	}

	idx, closeIndex, err := newIndex(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}
	a.addCloser(closeIndex)

	embedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	var expander tutorgate.Expander
	if r := cfg.Retrieval.Reformulations; r == nil || *r > 0 {
		expander = expand.New(a.Gateway)
	}
	retrieverOpts := []tutorgate.RetrieverOption{tutorgate.WithRetrieverMeter(m)}
	if cfg.Retrieval.Compression {
		// Extraction runs on the cheapest link first: the chain reversed.
		cheapFirst := slices.Clone(links)
		slices.Reverse(cheapFirst)
		cheap, err := tutorgate.NewGateway(cheapFirst, gatewayOpts...)
		if err != nil {
			return nil, err
		}
		retrieverOpts = append(retrieverOpts, tutorgate.WithCompressor(compress.New(cheap)))
	}
	retriever, err := tutorgate.NewRetriever(expander, embedder, idx, cfg.Retrieval, retrieverOpts...)
	if err != nil {
		return nil, err
	}

	// Without an encoding, counting falls back to a character estimate.
	tokens, _ := tutorgate.NewTokenCounter()

	a.Sessions = tutorgate.NewSessions(cfg.Session.MaxTurns)

	a.Tutor, err = tutorgate.NewTutor(tutorgate.TutorDeps{
		Ledger:    a.Ledger,
		Retriever: retriever,
		Gateway:   a.Gateway,
		Sessions:  a.Sessions,
		Tokens:    tokens,
	}, cfg.Tutor, tutorgate.WithMeter(m))
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("tutorgate/app: close: %w", errors.Join(errs...))
	}
	return nil
}

func (a *App) addCloser(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}
