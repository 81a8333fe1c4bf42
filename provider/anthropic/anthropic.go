// Package anthropic adapts the Anthropic Messages API via anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ineyio/tutorgate"
)

// DefaultMaxTokens is sent when the request sets no MaxTokens; the Messages
// API requires one.
const DefaultMaxTokens = 1024

// Provider is the Anthropic adapter.
type Provider struct {
	client sdk.Client
}

var _ tutorgate.Provider = (*Provider)(nil)

// New creates a provider. Client options (base URL, HTTP client, default
// API key) are passed through to the SDK; a per-request Auth.APIKey takes
// precedence.
func New(opts ...option.RequestOption) *Provider {
	// Retries belong to the gateway.
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &Provider{client: sdk.NewClient(opts...)}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Generate(ctx context.Context, req tutorgate.ProviderRequest) (tutorgate.ProviderResponse, error) {
	params := buildParams(req)

	var reqOpts []option.RequestOption
	if req.Auth.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(req.Auth.APIKey))
	}

	resp, err := p.client.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return tutorgate.ProviderResponse{}, classifyError(ctx, err)
	}

	var content strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			content.WriteString(block.AsText().Text)
		}
	}

	return tutorgate.ProviderResponse{
		ID:           resp.ID,
		Content:      content.String(),
		FinishReason: string(resp.StopReason),
		Model:        string(resp.Model),
		Usage: tutorgate.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// buildParams moves system messages into the System field.
func buildParams(req tutorgate.ProviderRequest) sdk.MessageNewParams {
	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case tutorgate.RoleSystem:
			system = append(system, m.Content)
		case tutorgate.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	return params
}

func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apierr *sdk.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("%w: %v", tutorgate.ErrProviderUnavailable, err)
	}

	switch apierr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", tutorgate.ErrRateLimited, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", tutorgate.ErrAuthFailed, err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %v", tutorgate.ErrInvalidRequest, err)
	default:
		// 500, 529 overloaded and the rest.
		return fmt.Errorf("%w: %v", tutorgate.ErrProviderUnavailable, err)
	}
}
