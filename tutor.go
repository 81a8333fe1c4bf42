package tutorgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"
)

// TutorDeps are the components a Tutor orchestrates.
type TutorDeps struct {
	Ledger    *Ledger
	Retriever *Retriever
	Gateway   Completer
	Sessions  *Sessions
	// Tokens counts prompt tokens for the context budget and for usage
	// estimates when a provider reports none. Optional.
	Tokens *TokenCounter
}

// Tutor runs a student message through admission, retrieval, generation
// and bookkeeping.
type Tutor struct {
	ledger    *Ledger
	retriever *Retriever
	gateway   Completer
	sessions  *Sessions
	tokens    *TokenCounter
	prompt    PromptBuilder
	cfg       TutorConfig
	sem       *semaphore.Weighted
	meter     Meter
}

// TutorOption configures a Tutor.
type TutorOption func(*Tutor)

// WithMeter sets the meter that receives request events.
func WithMeter(m Meter) TutorOption {
	return func(t *Tutor) { t.meter = m }
}

// NewTutor creates a Tutor.
func NewTutor(deps TutorDeps, cfg TutorConfig, opts ...TutorOption) (*Tutor, error) {
	if deps.Ledger == nil || deps.Retriever == nil || deps.Gateway == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("tutorgate: tutor: ledger, retriever, gateway and sessions are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tutor{
		ledger:    deps.Ledger,
		retriever: deps.Retriever,
		gateway:   deps.Gateway,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		prompt: PromptBuilder{
			SystemPrompt:     cfg.SystemPrompt,
			MaxContextTokens: cfg.MaxContextTokens,
			HistoryTurns:     cfg.HistoryTurns,
			Counter:          deps.Tokens,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.meter == nil {
		t.meter = &noopMeter{}
	}
	return t, nil
}

// Handle answers one student message. The returned Response is always
// populated with the request id and rate-limit status known so far; the
// error is nil only for OutcomeCompleted. A retrieval failure does not fail
// the request: the answer is generated without course material and
// Response.Degraded is set.
//
// Errors: *DeniedError (quota), *TimeoutError (request deadline or
// cancellation), *ExhaustedError or *ProviderError (generation), or
// ErrInvalidInput. RemedyFor classifies each of them.
func (t *Tutor) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp := Response{
		RequestID: xid.New().String(),
		SessionID: req.SessionID,
	}
	stage := StageAdmitted

	finish := func(outcome Outcome, err error) (Response, error) {
		resp.Outcome = outcome
		t.meter.OnRequest(RequestEvent{
			RequestID: resp.RequestID,
			StudentID: req.StudentID,
			SessionID: resp.SessionID,
			Outcome:   outcome,
			Stage:     stage,
			Degraded:  resp.Degraded,
			Provider:  resp.Provider,
			Usage:     resp.Usage,
			Duration:  time.Since(start),
			Error:     err,
		})
		return resp, err
	}

	if strings.TrimSpace(req.StudentID) == "" {
		return finish(OutcomeFailed, fmt.Errorf("%w: student id is required", ErrInvalidInput))
	}
	if strings.TrimSpace(req.Message) == "" {
		return finish(OutcomeFailed, fmt.Errorf("%w: message is required", ErrInvalidInput))
	}

	// One deadline bounds queueing, retrieval and generation together.
	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return finish(OutcomeTimedOut, &TimeoutError{Stage: stage, Err: err})
	}
	defer t.sem.Release(1)

	// Admitted.
	decision, err := t.ledger.Check(ctx, req.StudentID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(OutcomeTimedOut, &TimeoutError{Stage: stage, Err: ctxErr})
		}
		return finish(OutcomeFailed, fmt.Errorf("tutorgate: admission: %w", err))
	}
	resp.RateLimit = decision.RateLimit()
	if !decision.Allowed {
		return finish(OutcomeDenied, &DeniedError{Decision: decision})
	}

	if resp.SessionID == "" {
		resp.SessionID = uuid.NewString()
	}
	history := t.sessions.Get(resp.SessionID)

	// Retrieving.
	stage = StageRetrieving
	passages, err := t.retriever.Retrieve(ctx, req.Message, RetrieveOptions{Filter: req.Filter})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(OutcomeTimedOut, &TimeoutError{Stage: stage, Err: ctxErr})
		}
		resp.Degraded = true
		passages = nil
	}

	// Generating.
	stage = StageGenerating
	prompt, used := t.prompt.Build(history, passages, req.Message)
	completion, err := t.gateway.Complete(ctx, prompt, req.Params)
	if err != nil {
		resp.Attempts = attemptsOf(err)
		var te *TimeoutError
		if errors.As(err, &te) {
			return finish(OutcomeTimedOut, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(OutcomeTimedOut, &TimeoutError{Stage: stage, Err: ctxErr, Attempts: resp.Attempts})
		}
		return finish(OutcomeFailed, err)
	}

	// Completed.
	stage = StageCompleted
	resp.Text = completion.Text
	resp.Sources = previewSources(used, t.cfg.MaxSources, t.cfg.SourcePreviewChars)
	resp.Provider = completion.Provider
	resp.Model = completion.Model
	resp.Usage = completion.Usage
	resp.Attempts = completion.Attempts

	t.sessions.Append(resp.SessionID,
		Turn{Role: RoleUser, Text: req.Message},
		Turn{Role: RoleAssistant, Text: completion.Text},
	)

	used64 := completion.Usage.TotalTokens
	if used64 == 0 {
		used64 = EstimateTokens(t.tokens, prompt) + int64(t.tokens.Count(completion.Text))
	}
	// The answer is already produced: record its cost even if the caller has
	// gone away. Commit errors are reported through the ledger's meter.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.CommitTimeout)
	defer ccancel()
	if err := t.ledger.Commit(cctx, req.StudentID, used64); err == nil && resp.RateLimit.RemainingTokens >= 0 {
		resp.RateLimit.RemainingTokens = max(resp.RateLimit.RemainingTokens-used64, 0)
	}

	return finish(OutcomeCompleted, nil)
}

// previewSources returns copies of the first n passages with content cut
// to chars runes. A negative limit disables it.
func previewSources(passages []Passage, n, chars int) []Passage {
	if n >= 0 && len(passages) > n {
		passages = passages[:n]
	}
	out := make([]Passage, len(passages))
	for i, p := range passages {
		if rs := []rune(p.Content); chars >= 0 && len(rs) > chars {
			p.Content = string(rs[:chars]) + "..."
		}
		out[i] = p
	}
	return out
}

func attemptsOf(err error) []ProviderAttempt {
	var (
		ex *ExhaustedError
		pe *ProviderError
		te *TimeoutError
	)
	switch {
	case errors.As(err, &ex):
		return ex.Attempts
	case errors.As(err, &pe):
		return pe.Attempts
	case errors.As(err, &te):
		return te.Attempts
	}
	return nil
}
