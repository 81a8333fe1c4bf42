// Package gemini adapts the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ineyio/tutorgate"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

var _ tutorgate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Provider) Generate(ctx context.Context, req tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return tutorgate.ProviderResponse{}, fmt.Errorf("tutorgate/gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return tutorgate.ProviderResponse{}, fmt.Errorf("tutorgate/gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.Auth.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return tutorgate.ProviderResponse{}, ctx.Err()
		}
		return tutorgate.ProviderResponse{}, fmt.Errorf("%w: %v", tutorgate.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return tutorgate.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return tutorgate.ProviderResponse{}, fmt.Errorf("%w: decode gemini response: %v", tutorgate.ErrProviderUnavailable, err)
	}

	if len(resp.Candidates) == 0 {
		return tutorgate.ProviderResponse{}, fmt.Errorf("%w: no gemini candidates", tutorgate.ErrEmptyResponse)
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}

	return tutorgate.ProviderResponse{
		Content:      content.String(),
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Model:        model,
		Usage: tutorgate.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// buildRequest moves system messages into systemInstruction and maps the
// assistant role to "model".
func buildRequest(req tutorgate.ProviderRequest) geminiRequest {
	var (
		gr     geminiRequest
		system []string
	)
	for _, m := range req.Messages {
		switch m.Role {
		case tutorgate.RoleSystem:
			system = append(system, m.Content)
			continue
		case tutorgate.RoleAssistant:
			gr.Contents = append(gr.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || len(req.Stop) > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			StopSequences:   req.Stop,
		}
	}
	return gr
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return tutorgate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return tutorgate.ErrAuthFailed
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: %s", tutorgate.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", tutorgate.ErrProviderUnavailable, resp.StatusCode)
	}
}
