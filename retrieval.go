package tutorgate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// Retriever widens recall by looking up several reformulations of a query
// concurrently and merging the results.
type Retriever struct {
	expander   Expander
	compressor Compressor
	embedder   Embedder
	index      VectorIndex
	cfg        RetrievalConfig
	meter      Meter
}

// RetrieveOptions tunes one Retrieve call. The zero value uses the
// configured defaults and no filter.
type RetrieveOptions struct {
	// TopK bounds the result; 0 uses RetrievalConfig.TopK.
	TopK int

	// Reformulations overrides RetrievalConfig.Reformulations when non-nil;
	// 0 looks up the original query only.
	Reformulations *int

	// Filter restricts every lookup by passage metadata.
	Filter Filter
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithRetrieverMeter sets the meter that receives retrieval events.
func WithRetrieverMeter(m Meter) RetrieverOption {
	return func(r *Retriever) { r.meter = m }
}

// WithCompressor narrows merged passages with c before they are returned.
// A compression failure leaves the merged passages as they were.
func WithCompressor(c Compressor) RetrieverOption {
	return func(r *Retriever) { r.compressor = c }
}

// NewRetriever creates a Retriever. A nil expander disables reformulation:
// only the original query is looked up.
func NewRetriever(expander Expander, embedder Embedder, index VectorIndex, cfg RetrievalConfig, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("tutorgate: retriever: embedder and index are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Retriever{
		expander: expander,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter == nil {
		r.meter = &noopMeter{}
	}
	return r, nil
}

// Retrieve returns at most opts.TopK passages for query. The original query
// is always looked up (reformulation index 0) alongside up to
// opts.Reformulations alternative phrasings. Lookups run concurrently, each
// under its own timeout; failed lookups are dropped. Only when every lookup
// fails does Retrieve return an error: a *TimeoutError if ctx is done,
// otherwise a *RetrievalError.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if opts.TopK < 0 {
		return nil, fmt.Errorf("%w: negative top_k", ErrInvalidInput)
	}
	if opts.Reformulations != nil && *opts.Reformulations < 0 {
		return nil, fmt.Errorf("%w: negative reformulations", ErrInvalidInput)
	}
	topK := opts.TopK
	if topK == 0 {
		topK = r.cfg.TopK
	}
	reformulations := *r.cfg.Reformulations
	if opts.Reformulations != nil {
		reformulations = *opts.Reformulations
	}

	start := time.Now()
	queries, expanded := r.reformulate(ctx, query, reformulations)

	results := make([][]Passage, len(queries))
	errs := make([]error, len(queries))

	limit := r.cfg.MaxParallel
	if limit <= 0 {
		limit = len(queries)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			results[i], errs[i] = r.lookup(ctx, i, q, topK, opts.Filter)
			// Never abort the join: a failed lookup is a partial result.
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	hits := 0
	for i, err := range errs {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		hits += len(results[i])
	}

	event := RetrievalEvent{
		Queries:  len(queries),
		Failed:   len(failures),
		Hits:     hits,
		Expanded: expanded,
	}

	if len(failures) == len(queries) {
		var err error = &RetrievalError{Failures: failures}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &TimeoutError{Stage: StageRetrieving, Err: ctxErr}
		}
		event.Duration = time.Since(start)
		event.Error = err
		r.meter.OnRetrieval(event)
		return nil, err
	}

	merged := MergePassages(topK, results...)
	if r.compressor != nil && len(merged) > 0 {
		compressed, err := r.compressor.Compress(ctx, query, merged)
		if err == nil {
			event.Compressed = true
			event.Dropped = len(merged) - len(compressed)
			merged = compressed
		}
	}

	event.Returned = len(merged)
	event.AvgScore = avgScore(merged)
	event.Duration = time.Since(start)
	r.meter.OnRetrieval(event)

	return merged, nil
}

// reformulate returns the queries to look up, the original first. Expansion
// failures fall back to the original query alone.
func (r *Retriever) reformulate(ctx context.Context, query string, n int) ([]string, bool) {
	queries := []string{query}
	if n == 0 || r.expander == nil {
		return queries, false
	}

	ectx, cancel := context.WithTimeout(ctx, r.cfg.ExpandTimeout)
	defer cancel()

	alts, err := r.expander.Expand(ectx, query, n)
	if err != nil {
		return queries, false
	}

	seen := map[string]bool{strings.TrimSpace(query): true}
	for _, alt := range alts {
		alt = strings.TrimSpace(alt)
		if alt == "" || seen[alt] {
			continue
		}
		seen[alt] = true
		queries = append(queries, alt)
		if len(queries) == n+1 {
			break
		}
	}
	return queries, len(queries) > 1
}

func (r *Retriever) lookup(ctx context.Context, idx int, query string, topK int, filter Filter) ([]Passage, error) {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	emb, err := r.embedder.Embed(qctx, query)
	if err != nil {
		return nil, fmt.Errorf("reformulation %d: embed: %w", idx, err)
	}

	hits, err := r.index.Search(qctx, emb, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("reformulation %d: search: %w", idx, err)
	}

	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.ScoreThreshold {
			continue
		}
		passages = append(passages, Passage{
			ID:         h.ID,
			Content:    h.Content,
			Metadata:   h.Metadata,
			Score:      h.Score,
			QueryIndex: idx,
			Hash:       ContentHash(h.Content),
		})
	}
	return passages, nil
}

// MergePassages deduplicates passages by content hash, keeping the highest
// score (then the lowest reformulation index), sorts them by descending score
// with ties going to the lowest reformulation index, and truncates to topK.
// The result depends only on the set of input passages, not their order.
func MergePassages(topK int, sets ...[]Passage) []Passage {
	best := make(map[string]Passage)
	for _, set := range sets {
		for _, p := range set {
			if p.Hash == "" {
				p.Hash = ContentHash(p.Content)
			}
			cur, ok := best[p.Hash]
			if !ok || ranksBefore(p, cur) {
				best[p.Hash] = p
			}
		}
	}

	merged := make([]Passage, 0, len(best))
	for _, p := range best {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		if ranksBefore(merged[i], merged[j]) {
			return true
		}
		if ranksBefore(merged[j], merged[i]) {
			return false
		}
		return merged[i].Hash < merged[j].Hash
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// ranksBefore orders by score descending, then query index, then id.
func ranksBefore(a, b Passage) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.QueryIndex != b.QueryIndex {
		return a.QueryIndex < b.QueryIndex
	}
	return a.ID < b.ID
}

// ContentHash returns the dedup key of a passage's content.
func ContentHash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

func avgScore(passages []Passage) float64 {
	if len(passages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range passages {
		sum += p.Score
	}
	return sum / float64(len(passages))
}
