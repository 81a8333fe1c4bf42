// Package memory provides an in-memory VectorIndex for tests, examples and
// small course catalogues.
package memory

import (
	"context"
	"sync"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/index"
)

// Index is an in-memory brute-force cosine index.
type Index struct {
	mu   sync.RWMutex
	docs map[string]index.Document
}

var _ tutorgate.VectorIndex = (*Index)(nil)

// New creates an empty index.
func New() *Index {
	return &Index{docs: make(map[string]index.Document)}
}

// Add stores docs, replacing any with the same id.
func (x *Index) Add(_ context.Context, docs ...index.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, d := range docs {
		x.docs[d.ID] = d
	}
	return nil
}

// Search returns the topK documents most similar to embedding among those
// matching filter.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int, filter tutorgate.Filter) ([]tutorgate.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	docs := make([]index.Document, 0, len(x.docs))
	for _, d := range x.docs {
		if filter.Matches(d.Metadata) {
			docs = append(docs, d)
		}
	}
	x.mu.RUnlock()

	return index.Rank(docs, embedding, topK), nil
}

// Len returns the number of stored documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}
