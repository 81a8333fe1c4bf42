package mock

import (
	"context"
	"time"

	"github.com/ineyio/tutorgate"
)

// Index is a scripted VectorIndex. Results are chosen by the text that was
// embedded, which requires the Embedder to be created with TextEmbedder.
type Index struct {
	results map[string][]tutorgate.Hit
	errs    map[string]error
	hang    map[string]bool
	latency time.Duration
}

var _ tutorgate.VectorIndex = (*Index)(nil)

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithHits scripts the hits returned for query.
func WithHits(query string, hits ...tutorgate.Hit) IndexOption {
	return func(x *Index) { x.results[query] = hits }
}

// WithSearchError scripts a failure for query.
func WithSearchError(query string, err error) IndexOption {
	return func(x *Index) { x.errs[query] = err }
}

// WithSearchHang makes searches for query block until their context is done.
func WithSearchHang(query string) IndexOption {
	return func(x *Index) { x.hang[query] = true }
}

// WithSearchLatency delays every search.
func WithSearchLatency(d time.Duration) IndexOption {
	return func(x *Index) { x.latency = d }
}

// NewIndex creates a scripted index.
func NewIndex(opts ...IndexOption) *Index {
	x := &Index{
		results: make(map[string][]tutorgate.Hit),
		errs:    make(map[string]error),
		hang:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Index) Search(ctx context.Context, embedding []float32, topK int, filter tutorgate.Filter) ([]tutorgate.Hit, error) {
	query := DecodeText(embedding)

	if x.hang[query] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if x.latency > 0 {
		select {
		case <-time.After(x.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := x.errs[query]; ok {
		return nil, err
	}

	var hits []tutorgate.Hit
	for _, h := range x.results[query] {
		if filter.Matches(h.Metadata) {
			hits = append(hits, h)
		}
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// TextEmbedder returns an Embedder whose vectors carry the embedded text,
// for use with Index.
func TextEmbedder(opts ...EmbedderOption) *Embedder {
	opts = append([]EmbedderOption{WithEmbedFunc(func(s string) ([]float32, error) {
		return EncodeText(s), nil
	})}, opts...)
	return NewEmbedder(opts...)
}

// EncodeText stores text as one rune per vector element.
func EncodeText(s string) []float32 {
	rs := []rune(s)
	v := make([]float32, len(rs))
	for i, r := range rs {
		v[i] = float32(r)
	}
	return v
}

// DecodeText reverses EncodeText.
func DecodeText(v []float32) string {
	rs := make([]rune, len(v))
	for i, f := range v {
		rs[i] = rune(f)
	}
	return string(rs)
}
