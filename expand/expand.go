// Package expand generates query reformulations with a completion model.
package expand

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ineyio/tutorgate"
)

// DefaultPrompt instructs the model; %d is replaced by the number of variations.
const DefaultPrompt = `You are an AI assistant specialized in generating query variations for information retrieval in an educational context.

Your task is to generate %d different variations of the given query that maintain the same semantic meaning but use different phrasings, synonyms, and perspectives.

Guidelines:
- Each variation should capture the core intent of the original query
- Use different terminology and sentence structures
- Consider technical and non-technical phrasings
- Include relevant keywords and concepts
- Keep variations concise and focused

Return ONLY the variations, one per line, without numbering or additional text.`

// Expander asks a Completer for alternative phrasings of a query.
type Expander struct {
	completer   tutorgate.Completer
	prompt      string
	temperature *float64
}

var _ tutorgate.Expander = (*Expander)(nil)

// Option configures an Expander.
type Option func(*Expander)

// WithPrompt replaces the system prompt. It must contain one %d verb.
func WithPrompt(p string) Option {
	return func(e *Expander) { e.prompt = p }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Expander) { e.temperature = &t }
}

// New creates an Expander over c, typically the tutor's own *Gateway.
func New(c tutorgate.Completer, opts ...Option) *Expander {
	e := &Expander{
		completer:   c,
		prompt:      DefaultPrompt,
		temperature: tutorgate.Float64Ptr(0.7),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns up to n phrasings of query, excluding query itself.
func (e *Expander) Expand(ctx context.Context, query string, n int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", tutorgate.ErrInvalidInput)
	}
	if n <= 0 {
		return nil, nil
	}

	prompt := []tutorgate.Message{
		{Role: tutorgate.RoleSystem, Content: fmt.Sprintf(e.prompt, n)},
		{Role: tutorgate.RoleUser, Content: "Query: " + query},
	}
	c, err := e.completer.Complete(ctx, prompt, tutorgate.Params{Temperature: e.temperature})
	if err != nil {
		return nil, fmt.Errorf("tutorgate/expand: %w", err)
	}

	return Parse(c.Text, query, n), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d{1,3}[.)]|[-*•])\s*`)

// Parse splits model output into at most n distinct variations, stripping
// list numbering and bullets and dropping blanks and copies of query.
func Parse(text, query string, n int) []string {
	query = strings.TrimSpace(query)
	seen := map[string]bool{strings.ToLower(query): true}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		key := strings.ToLower(line)
		if line == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
