// Package ollama adapts a local or remote Ollama server for chat and
// embeddings via the official Go client.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/ineyio/tutorgate"
)

// DefaultHost is the address of a local Ollama server.
const DefaultHost = "http://localhost:11434"

// Provider is the Ollama chat adapter.
type Provider struct {
	client *api.Client
}

var _ tutorgate.Provider = (*Provider)(nil)

// New creates a provider for the server at host. An empty host uses DefaultHost.
func New(host string, httpClient *http.Client) (*Provider, error) {
	client, err := newClient(host, httpClient)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

func newClient(host string, httpClient *http.Client) (*api.Client, error) {
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("tutorgate/ollama: parse host %q: %w", host, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return api.NewClient(u, httpClient), nil
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) Generate(ctx context.Context, req tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error) {
	msgs := make([]api.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options(req.Params),
	}

	var resp api.ChatResponse
	err := p.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return tutorgate.ProviderResponse{}, classifyError(ctx, err)
	}

	prompt := int64(resp.PromptEvalCount)
	completion := int64(resp.EvalCount)
	return tutorgate.ProviderResponse{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		Model:        resp.Model,
		Usage: tutorgate.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func options(p tutorgate.Params) map[string]any {
	opts := map[string]any{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.MaxTokens != nil {
		opts["num_predict"] = *p.MaxTokens
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	return opts
}

func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var se api.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", tutorgate.ErrProviderUnavailable, err)
	}

	switch se.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", tutorgate.ErrRateLimited, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", tutorgate.ErrAuthFailed, err)
	case http.StatusBadRequest, http.StatusNotFound:
		// 404 is an unknown model.
		return fmt.Errorf("%w: %v", tutorgate.ErrInvalidRequest, err)
	default:
		return fmt.Errorf("%w: %v", tutorgate.ErrProviderUnavailable, err)
	}
}
