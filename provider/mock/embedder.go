package mock

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/ineyio/tutorgate"
)

// Dims is the width of vectors produced by the default Embedder.
const Dims = 64

// Embedder is a deterministic bag-of-words embedder: texts sharing words
// get similar vectors.
type Embedder struct {
	latency   time.Duration
	err       error
	fn        func(string) ([]float32, error)
	callCount atomic.Int64
}

var _ tutorgate.Embedder = (*Embedder)(nil)

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedLatency adds simulated latency to each call.
func WithEmbedLatency(d time.Duration) EmbedderOption {
	return func(e *Embedder) { e.latency = d }
}

// WithEmbedError makes every call fail with err.
func WithEmbedError(err error) EmbedderOption {
	return func(e *Embedder) { e.err = err }
}

// WithEmbedFunc replaces the embedding function.
func WithEmbedFunc(fn func(string) ([]float32, error)) EmbedderOption {
	return func(e *Embedder) { e.fn = fn }
}

// NewEmbedder creates a mock embedder.
func NewEmbedder(opts ...EmbedderOption) *Embedder {
	e := &Embedder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.callCount.Add(1)
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.fn != nil {
		return e.fn(text)
	}
	return BagOfWords(text), nil
}

// CallCount returns the number of calls made to the embedder.
func (e *Embedder) CallCount() int64 { return e.callCount.Load() }

// BagOfWords hashes the lower-cased words of text into a unit vector.
func BagOfWords(text string) []float32 {
	v := make([]float32, Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		v[xxhash.Sum64String(w)%Dims]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
