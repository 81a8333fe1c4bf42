package ollama

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ollama/ollama/api"

	"github.com/ineyio/tutorgate"
)

// Embedder produces embeddings with an Ollama embedding model
// (e.g. nomic-embed-text).
type Embedder struct {
	client *api.Client
	model  string
}

var _ tutorgate.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder for model on the server at host.
func NewEmbedder(host, model string, httpClient *http.Client) (*Embedder, error) {
	client, err := newClient(host, httpClient)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("tutorgate/ollama: embed: %w", classifyError(ctx, err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("tutorgate/ollama: embed: %w", tutorgate.ErrEmptyResponse)
	}
	return resp.Embeddings[0], nil
}
