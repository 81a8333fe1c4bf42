// Package compress narrows retrieved passages to their query-relevant
// extract with a completion model.
package compress

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ineyio/tutorgate"
)

// NotRelevant is the reply that marks a passage as irrelevant to the query.
const NotRelevant = "NOT_RELEVANT"

// DefaultPrompt instructs the model; the query and passage follow as the
// user message.
const DefaultPrompt = `You extract the information from a course material excerpt that helps answer a student's query.

Return only the relevant extract, as concise as possible while keeping facts, numbers and specific details intact. Leave out anything unrelated to the query.
If unsure whether something is relevant, keep it.
If the excerpt contains nothing relevant, reply with exactly ` + NotRelevant + `.`

// DefaultParallel caps concurrent completions per Compress call.
const DefaultParallel = 4

// Compressor asks a Completer for the relevant part of each passage.
type Compressor struct {
	completer tutorgate.Completer
	prompt    string
	parallel  int
}

var _ tutorgate.Compressor = (*Compressor)(nil)

// Option configures a Compressor.
type Option func(*Compressor)

// WithPrompt replaces the system prompt.
func WithPrompt(p string) Option {
	return func(c *Compressor) { c.prompt = p }
}

// WithParallel caps concurrent completions.
func WithParallel(n int) Option {
	return func(c *Compressor) { c.parallel = n }
}

// New creates a Compressor over c, usually a gateway that tries the
// cheaper fallback model first.
func New(c tutorgate.Completer, opts ...Option) *Compressor {
	x := &Compressor{
		completer: c,
		prompt:    DefaultPrompt,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.parallel < 1 {
		x.parallel = DefaultParallel
	}
	return x
}

// Compress returns the passages that hold something relevant to query, in
// their original order, each with its content replaced by the extract. A
// passage whose completion fails is kept unchanged. Compress fails only when
// ctx is done.
func (x *Compressor) Compress(ctx context.Context, query string, passages []tutorgate.Passage) ([]tutorgate.Passage, error) {
	if len(passages) == 0 || strings.TrimSpace(query) == "" {
		return passages, nil
	}

	out := make([]tutorgate.Passage, len(passages))
	keep := make([]bool, len(passages))

	var g errgroup.Group
	g.SetLimit(x.parallel)
	for i, p := range passages {
		g.Go(func() error {
			out[i], keep[i] = x.compressOne(ctx, query, p)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tutorgate/compress: %w", err)
	}

	result := make([]tutorgate.Passage, 0, len(passages))
	for i, p := range out {
		if keep[i] {
			result = append(result, p)
		}
	}
	return result, nil
}

func (x *Compressor) compressOne(ctx context.Context, query string, p tutorgate.Passage) (tutorgate.Passage, bool) {
	prompt := []tutorgate.Message{
		{Role: tutorgate.RoleSystem, Content: x.prompt},
		{Role: tutorgate.RoleUser, Content: "Query: " + query + "\n\nExcerpt:\n" + p.Content},
	}
	c, err := x.completer.Complete(ctx, prompt, tutorgate.Params{Temperature: tutorgate.Float64Ptr(0)})
	if err != nil {
		return p, true
	}

	extract := strings.TrimSpace(c.Text)
	switch {
	case extract == "":
		return p, true
	case strings.Trim(extract, `."' `) == NotRelevant:
		return p, false
	}

	meta := make(map[string]string, len(p.Metadata)+2)
	maps.Copy(meta, p.Metadata)
	meta["compressed"] = "true"
	meta["original_length"] = strconv.Itoa(len(p.Content))
	p.Metadata = meta
	p.Content = extract
	return p, true
}
