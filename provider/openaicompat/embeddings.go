package openaicompat

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ineyio/tutorgate"
)

// Embedder calls an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	baseURL    string
	model      string
	auth       tutorgate.Auth
	httpClient *http.Client
}

var _ tutorgate.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder for model at baseURL.
func NewEmbedder(baseURL, model string, auth tutorgate.Auth, opts ...Option) *Embedder {
	// Reuse the provider options for the HTTP client.
	p := New("", baseURL, opts...)
	return &Embedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		auth:       auth,
		httpClient: p.httpClient,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	err := postJSON(ctx, e.httpClient, e.baseURL+"/embeddings", e.auth.APIKey,
		embeddingRequest{Model: e.model, Input: []string{text}}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tutorgate/openaicompat: embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("tutorgate/openaicompat: embed: %w", tutorgate.ErrEmptyResponse)
	}
	return resp.Data[0].Embedding, nil
}
