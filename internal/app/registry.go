package app

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/counter"
	"github.com/ineyio/tutorgate/counter/postgres"
	"github.com/ineyio/tutorgate/counter/redis"
	"github.com/ineyio/tutorgate/index/memory"
	"github.com/ineyio/tutorgate/index/qdrant"
	"github.com/ineyio/tutorgate/index/sqlite"
	"github.com/ineyio/tutorgate/policy"
	"github.com/ineyio/tutorgate/provider/anthropic"
	"github.com/ineyio/tutorgate/provider/gemini"
	"github.com/ineyio/tutorgate/provider/mock"
	"github.com/ineyio/tutorgate/provider/ollama"
	"github.com/ineyio/tutorgate/provider/openaicompat"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

func newCounterStore(ctx context.Context, cfg tutorgate.CounterConfig) (tutorgate.CounterStore, func() error, error) {
	switch cfg.Kind {
	case "", "memory":
		return counter.NewMemoryStore(), nil, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("tutorgate/app: redis %s: %w", cfg.Addr, err)
		}
		return redis.New(client), client.Close, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("tutorgate/app: postgres: %w", err)
		}
		store := postgres.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("tutorgate/app: postgres: %w", err)
		}
		return store, func() error { pool.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("tutorgate/app: unknown counter kind %q", cfg.Kind)
	}
}

func newIndex(ctx context.Context, cfg tutorgate.IndexConfig) (tutorgate.VectorIndex, func() error, error) {
	switch cfg.Kind {
	case "", "memory":
		return memory.New(), nil, nil

	case "sqlite":
		idx, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil

	case "qdrant":
		if cfg.URL == "" || cfg.Collection == "" {
			return nil, nil, fmt.Errorf("tutorgate/app: qdrant index needs url and collection")
		}
		var opts []qdrant.Option
		if cfg.APIKey != "" {
			opts = append(opts, qdrant.WithAPIKey(cfg.APIKey))
		}
		return qdrant.New(cfg.URL, cfg.Collection, opts...), nil, nil

	default:
		return nil, nil, fmt.Errorf("tutorgate/app: unknown index kind %q", cfg.Kind)
	}
}

func newEmbedder(cfg tutorgate.EmbedderConfig) (tutorgate.Embedder, error) {
	switch cfg.Kind {
	case "", "mock":
		return mock.NewEmbedder(), nil

	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("tutorgate/app: openai embedder needs a model")
		}
		return openaicompat.NewEmbedder(baseURL, cfg.Model, cfg.Auth), nil

	case "ollama":
		if cfg.Model == "" {
			return nil, fmt.Errorf("tutorgate/app: ollama embedder needs a model")
		}
		return ollama.NewEmbedder(cfg.BaseURL, cfg.Model, nil)

	default:
		return nil, fmt.Errorf("tutorgate/app: unknown embedder kind %q", cfg.Kind)
	}
}

func newPolicy(name string) (tutorgate.Policy, error) {
	switch name {
	case "", tutorgate.PolicyConfigOrder:
		return &policy.ConfigOrderPolicy{}, nil
	case tutorgate.PolicyHealthFirst:
		return &policy.HealthFirstPolicy{}, nil
	default:
		return nil, fmt.Errorf("tutorgate/app: unknown gateway policy %q", name)
	}
}

func newLinks(chain []tutorgate.LinkConfig) ([]tutorgate.Link, error) {
	links := make([]tutorgate.Link, 0, len(chain))
	for i, lc := range chain {
		p, err := newProvider(lc)
		if err != nil {
			return nil, fmt.Errorf("tutorgate/app: chain[%d] (%s): %w", i, lc.Name, err)
		}
		links = append(links, tutorgate.Link{
			Name:     lc.Name,
			Provider: p,
			Model:    lc.Model,
			Auth:     lc.Auth,
			Timeout:  lc.Timeout,
			Limiter:  tutorgate.NewLimiter(lc),
		})
	}
	return links, nil
}

func newProvider(lc tutorgate.LinkConfig) (tutorgate.Provider, error) {
	switch lc.Provider {
	case "openai":
		if lc.BaseURL != "" {
			return openaicompat.New("openai", lc.BaseURL), nil
		}
		return openaicompat.NewOpenAI(), nil

	case "openaicompat":
		if lc.BaseURL == "" {
			return nil, fmt.Errorf("openaicompat provider needs base_url")
		}
		return openaicompat.New(lc.Name, lc.BaseURL), nil

	case "gemini":
		var opts []gemini.Option
		if lc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(lc.BaseURL))
		}
		return gemini.New(opts...), nil

	case "anthropic":
		var opts []option.RequestOption
		if lc.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(lc.BaseURL))
		}
		return anthropic.New(opts...), nil

	case "ollama":
		return ollama.New(lc.BaseURL, nil)

	case "mock":
		return mock.New(mock.WithName(lc.Name)), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", lc.Provider)
	}
}
