// Package qdrant provides a VectorIndex over the Qdrant REST search API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/ineyio/tutorgate"
)

// Defaults match the payload layout written by common ingestion tools:
// {"page_content": "...", "metadata": {...}}.
const (
	DefaultContentKey  = "page_content"
	DefaultMetadataKey = "metadata"
)

// Index searches one Qdrant collection.
type Index struct {
	baseURL     string
	collection  string
	apiKey      string
	contentKey  string
	metadataKey string
	httpClient  *http.Client
}

var _ tutorgate.VectorIndex = (*Index)(nil)

// Option configures the index.
type Option func(*Index)

// WithAPIKey sets the api-key header.
func WithAPIKey(key string) Option {
	return func(x *Index) { x.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(x *Index) { x.httpClient = c }
}

// WithPayloadKeys sets the payload fields holding content and metadata.
func WithPayloadKeys(content, metadata string) Option {
	return func(x *Index) {
		x.contentKey = content
		x.metadataKey = metadata
	}
}

// New creates an index for collection at baseURL (e.g. http://localhost:6333).
func New(baseURL, collection string, opts ...Option) *Index {
	x := &Index{
		baseURL:     strings.TrimRight(baseURL, "/"),
		collection:  collection,
		contentKey:  DefaultContentKey,
		metadataKey: DefaultMetadataKey,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

type searchRequest struct {
	Vector      []float32    `json:"vector"`
	Limit       int          `json:"limit"`
	WithPayload bool         `json:"with_payload"`
	Filter      *queryFilter `json:"filter,omitempty"`
}

type queryFilter struct {
	Must []fieldCondition `json:"must"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

type matchValue struct {
	Value *string  `json:"value,omitempty"`
	Any   []string `json:"any,omitempty"`
}

// buildFilter turns f into a "must" filter over the metadata payload: one
// value is an exact match, several are a match-any.
func (x *Index) buildFilter(f tutorgate.Filter) *queryFilter {
	keys := make([]string, 0, len(f))
	for k, vs := range f {
		if len(vs) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	qf := &queryFilter{}
	for _, k := range keys {
		cond := fieldCondition{Key: x.metadataKey + "." + k}
		if vs := f[k]; len(vs) == 1 {
			cond.Match.Value = &vs[0]
		} else {
			cond.Match.Any = vs
		}
		qf.Must = append(qf.Must, cond)
	}
	return qf
}

type searchResponse struct {
	Result []struct {
		ID      json.RawMessage            `json:"id"`
		Score   float64                    `json:"score"`
		Payload map[string]json.RawMessage `json:"payload"`
	} `json:"result"`
	Status any `json:"status"`
}

// Search returns the topK nearest points of the collection whose metadata
// payload matches filter.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int, filter tutorgate.Filter) ([]tutorgate.Hit, error) {
	body, err := json.Marshal(searchRequest{
		Vector:      embedding,
		Limit:       topK,
		WithPayload: true,
		Filter:      x.buildFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("tutorgate/qdrant: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", x.baseURL, x.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tutorgate/qdrant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tutorgate/qdrant: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tutorgate/qdrant: search: status %d: %s", resp.StatusCode, string(msg))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("tutorgate/qdrant: decode response: %w", err)
	}

	hits := make([]tutorgate.Hit, 0, len(sr.Result))
	for _, r := range sr.Result {
		h := tutorgate.Hit{
			ID:    pointID(r.ID),
			Score: r.Score,
		}
		if raw, ok := r.Payload[x.contentKey]; ok {
			_ = json.Unmarshal(raw, &h.Content)
		}
		if raw, ok := r.Payload[x.metadataKey]; ok {
			h.Metadata = flatten(raw)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// pointID renders a numeric or UUID point id as a string.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// flatten turns a metadata object into string values; nested values are
// kept as their JSON text.
func flatten(raw json.RawMessage) map[string]string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}
