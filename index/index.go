// Package index holds what the VectorIndex adapters share: the stored
// document shape and similarity ranking.
package index

import (
	"math"
	"sort"

	"github.com/ineyio/tutorgate"
)

// Document is a stored chunk of course material with its embedding.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores docs against embedding and returns the topK best hits,
// highest score first, ties by id.
func Rank(docs []Document, embedding []float32, topK int) []tutorgate.Hit {
	hits := make([]tutorgate.Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, tutorgate.Hit{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
			Score:    Cosine(embedding, d.Embedding),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
