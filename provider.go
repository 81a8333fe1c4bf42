package tutorgate

import (
	"context"
	"slices"
)

// Provider is the interface that completion provider adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "ollama").
	Name() string

	// Generate performs a synchronous completion. Transient failures must be
	// reported as (or wrap) ErrRateLimited, ErrProviderUnavailable or
	// ErrEmptyResponse; non-transient ones as ErrInvalidRequest or ErrAuthFailed.
	Generate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds authentication credentials for a provider.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth     Auth
	Model    string
	Messages []Message
	Params
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID           string
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// Completer produces a completion for a prompt. *Gateway implements it;
// the reformulation expander depends on it.
type Completer interface {
	Complete(ctx context.Context, prompt []Message, params Params) (Completion, error)
}

// Embedder turns text into a vector for the vector index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is a remote, stateless nearest-neighbour index over course material.
type VectorIndex interface {
	// Search returns the topK nearest hits whose metadata matches filter.
	// A nil filter matches everything.
	Search(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Hit, error)
}

// Filter restricts a search by passage metadata. Every key must match; a
// key with several values matches any of them.
type Filter map[string][]string

// Matches reports whether metadata satisfies f.
func (f Filter) Matches(metadata map[string]string) bool {
	for key, values := range f {
		if len(values) == 0 {
			continue
		}
		v, ok := metadata[key]
		if !ok || !slices.Contains(values, v) {
			return false
		}
	}
	return true
}

// Hit is a ranked candidate returned by a VectorIndex.
type Hit struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Expander produces alternative phrasings of a query.
type Expander interface {
	Expand(ctx context.Context, query string, n int) ([]string, error)
}

// Compressor narrows retrieved passages to the parts relevant to query,
// dropping passages with nothing relevant. Order must be preserved.
type Compressor interface {
	Compress(ctx context.Context, query string, passages []Passage) ([]Passage, error)
}
