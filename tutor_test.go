package tutorgate_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/counter"
	"github.com/ineyio/tutorgate/provider/mock"
)

type tutorFixture struct {
	tutor    *tg.Tutor
	ledger   *tg.Ledger
	sessions *tg.Sessions
	meter    *recordingMeter
}

type tutorSetup struct {
	quota     tg.QuotaConfig
	tutor     tg.TutorConfig
	index     *mock.Index
	links     []tg.Link
	maxTurns  int
	retryOpts []tg.GatewayOption
}

func newTutorFixture(t *testing.T, s tutorSetup) *tutorFixture {
	t.Helper()
	m := &recordingMeter{}

	ledger, err := tg.NewLedger(counter.NewMemoryStore(), s.quota, tg.WithLedgerMeter(m))
	require.NoError(t, err)

	if s.index == nil {
		s.index = mock.NewIndex()
	}
	retriever, err := tg.NewRetriever(nil, mock.TextEmbedder(), s.index, tg.RetrievalConfig{QueryTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	if s.links == nil {
		s.links = []tg.Link{{Name: "primary", Provider: mock.New(), Model: "m1"}}
	}
	gateway, err := tg.NewGateway(s.links, append([]tg.GatewayOption{fastRetry(0)}, s.retryOpts...)...)
	require.NoError(t, err)

	sessions := tg.NewSessions(s.maxTurns)
	tutor, err := tg.NewTutor(tg.TutorDeps{
		Ledger:    ledger,
		Retriever: retriever,
		Gateway:   gateway,
		Sessions:  sessions,
	}, s.tutor, tg.WithMeter(m))
	require.NoError(t, err)

	return &tutorFixture{tutor: tutor, ledger: ledger, sessions: sessions, meter: m}
}

func TestTutor_Completed(t *testing.T) {
	var gotPrompt []tg.Message
	provider := mock.New(mock.WithResponseFunc(func(req tg.ProviderRequest) (tg.ProviderResponse, error) {
		gotPrompt = req.Messages
		return tg.ProviderResponse{
			Content: "A closure captures variables from its enclosing scope.",
			Usage:   tg.Usage{PromptTokens: 80, CompletionTokens: 20},
		}, nil
	}))

	f := newTutorFixture(t, tutorSetup{
		index: mock.NewIndex(mock.WithHits("What is a closure?",
			tg.Hit{ID: "c1", Content: "Closures capture variables.", Score: 0.9},
		)),
		links: []tg.Link{{Name: "primary", Provider: provider, Model: "m1"}},
	})

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "What is a closure?"})
	require.NoError(t, err)

	assert.Equal(t, tg.OutcomeCompleted, resp.Outcome)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotEmpty(t, resp.SessionID)
	assert.False(t, resp.Degraded)
	assert.Equal(t, "primary", resp.Provider)
	assert.EqualValues(t, 100, resp.Usage.TotalTokens)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "c1", resp.Sources[0].ID)

	require.NotEmpty(t, gotPrompt)
	assert.Contains(t, gotPrompt[0].Content, "Closures capture variables.")

	assert.EqualValues(t, tg.DefaultRequestsPerWindow-1, resp.RateLimit.RemainingRequests)
	assert.EqualValues(t, tg.DefaultTokensPerWindow-100, resp.RateLimit.RemainingTokens)

	st, err := f.ledger.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, st.TokensUsed)

	turns := f.sessions.Get(resp.SessionID).Turns
	require.Len(t, turns, 2)
	assert.Equal(t, "What is a closure?", turns[0].Text)
	assert.Equal(t, "A closure captures variables from its enclosing scope.", turns[1].Text)

	events := f.meter.requestEvents()
	require.Len(t, events, 1)
	assert.Equal(t, tg.OutcomeCompleted, events[0].Outcome)
	assert.Equal(t, tg.StageCompleted, events[0].Stage)
}

func TestTutor_HistoryCarriedAcrossTurns(t *testing.T) {
	var calls [][]tg.Message
	var mu sync.Mutex
	provider := mock.New(mock.WithResponseFunc(func(req tg.ProviderRequest) (tg.ProviderResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, req.Messages)
		return tg.ProviderResponse{Content: fmt.Sprintf("answer %d", len(calls))}, nil
	}))
	f := newTutorFixture(t, tutorSetup{links: []tg.Link{{Name: "p", Provider: provider}}})

	first, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "first"})
	require.NoError(t, err)
	_, err = f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", SessionID: first.SessionID, Message: "second"})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "answer 1", second[2].Content)
	assert.Equal(t, "second", second[3].Content)
}

func TestTutor_Denied(t *testing.T) {
	provider := mock.New()
	f := newTutorFixture(t, tutorSetup{
		quota: tg.QuotaConfig{RequestsPerWindow: 1, RequestWindow: time.Hour},
		links: []tg.Link{{Name: "p", Provider: provider}},
	})

	_, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "one"})
	require.NoError(t, err)

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "two"})
	var denied *tg.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, tg.ErrQuotaDenied)
	assert.Equal(t, tg.OutcomeDenied, resp.Outcome)
	assert.Equal(t, tg.RemedyWait, tg.RemedyFor(err))
	assert.Equal(t, tg.DenyRequests, denied.Decision.Reason)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.RateLimit.ResetAt, time.Minute)
	assert.EqualValues(t, 1, provider.CallCount(), "denied requests never reach a provider")
}

func TestTutor_DegradedWhenRetrievalFails(t *testing.T) {
	var system string
	provider := mock.New(mock.WithResponseFunc(func(req tg.ProviderRequest) (tg.ProviderResponse, error) {
		system = req.Messages[0].Content
		return tg.ProviderResponse{Content: "general answer"}, nil
	}))
	f := newTutorFixture(t, tutorSetup{
		index: mock.NewIndex(mock.WithSearchError("q", errors.New("index offline"))),
		links: []tg.Link{{Name: "p", Provider: provider}},
	})

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "q"})
	require.NoError(t, err)
	assert.Equal(t, tg.OutcomeCompleted, resp.Outcome)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Sources)
	assert.Contains(t, system, tg.NoContextText)
}

func TestTutor_ExhaustedChain(t *testing.T) {
	f := newTutorFixture(t, tutorSetup{
		links: []tg.Link{
			{Name: "a", Provider: mock.New(mock.WithError(tg.ErrProviderUnavailable))},
			{Name: "b", Provider: mock.New(mock.WithError(tg.ErrRateLimited))},
		},
	})

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", SessionID: "sess", Message: "q"})
	assert.ErrorIs(t, err, tg.ErrProviderExhausted)
	assert.Equal(t, tg.OutcomeFailed, resp.Outcome)
	assert.Len(t, resp.Attempts, 2)
	assert.Empty(t, f.sessions.Get("sess").Turns, "failed exchanges are not remembered")

	st, err := f.ledger.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.RequestsUsed, "the admission is consumed")
	assert.Zero(t, st.TokensUsed, "no tokens charged for a failed request")
}

func TestTutor_RequestTimeout(t *testing.T) {
	f := newTutorFixture(t, tutorSetup{
		tutor: tg.TutorConfig{RequestTimeout: 50 * time.Millisecond},
		links: []tg.Link{{Name: "slow", Provider: mock.New(mock.WithHang())}},
	})

	start := time.Now()
	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "q"})
	assert.Less(t, time.Since(start), time.Second)

	var te *tg.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tg.StageGenerating, te.Stage)
	assert.Equal(t, tg.OutcomeTimedOut, resp.Outcome)
	assert.Equal(t, tg.RemedyWait, tg.RemedyFor(err))
}

func TestTutor_EstimatesUsageWhenProviderReportsNone(t *testing.T) {
	f := newTutorFixture(t, tutorSetup{
		links: []tg.Link{{Name: "p", Provider: mock.New(mock.WithUsage(tg.Usage{}), mock.WithContent(strings.Repeat("x", 400)))}},
	})

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "q"})
	require.NoError(t, err)

	st, err := f.ledger.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.Greater(t, st.TokensUsed, int64(100), "estimate covers prompt and 400-char answer")
	assert.Equal(t, tg.DefaultTokensPerWindow-st.TokensUsed, resp.RateLimit.RemainingTokens)
}

func TestTutor_InvalidInput(t *testing.T) {
	f := newTutorFixture(t, tutorSetup{})

	_, err := f.tutor.Handle(context.Background(), tg.Request{Message: "q"})
	assert.ErrorIs(t, err, tg.ErrInvalidInput)

	resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "   "})
	assert.ErrorIs(t, err, tg.ErrInvalidInput)
	assert.Equal(t, tg.OutcomeFailed, resp.Outcome)
	assert.Equal(t, tg.RemedyFix, tg.RemedyFor(err))
}

func TestTutor_ConcurrentRequestsSameSession(t *testing.T) {
	f := newTutorFixture(t, tutorSetup{maxTurns: 100})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tutor.Handle(context.Background(), tg.Request{
				StudentID: "s1",
				SessionID: "shared",
				Message:   fmt.Sprintf("q%d", i),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns := f.sessions.Get("shared").Turns
	require.Len(t, turns, 40)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, tg.RoleUser, turns[i].Role)
		assert.Equal(t, tg.RoleAssistant, turns[i+1].Role)
	}
}

func TestNewTutor_RequiresDeps(t *testing.T) {
	_, err := tg.NewTutor(tg.TutorDeps{}, tg.TutorConfig{})
	assert.Error(t, err)
}

func TestTutor_SourcePreview(t *testing.T) {
	long := strings.Repeat("loop ", 60)
	hits := []tg.Hit{
		{ID: "a", Content: long, Score: 0.9},
		{ID: "b", Content: "short", Score: 0.8},
		{ID: "c", Content: "also short", Score: 0.7},
		{ID: "d", Content: "dropped", Score: 0.6},
	}

	tests := []struct {
		name     string
		cfg      tg.TutorConfig
		wantIDs  []string
		wantHead string
	}{
		{
			name:     "defaults",
			wantIDs:  []string{"a", "b", "c"},
			wantHead: long[:tg.DefaultSourcePreviewChars] + "...",
		},
		{
			name:     "custom",
			cfg:      tg.TutorConfig{MaxSources: 2, SourcePreviewChars: 9},
			wantIDs:  []string{"a", "b"},
			wantHead: "loop loop...",
		},
		{
			name:     "disabled",
			cfg:      tg.TutorConfig{MaxSources: -1, SourcePreviewChars: -1},
			wantIDs:  []string{"a", "b", "c", "d"},
			wantHead: long,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTutorFixture(t, tutorSetup{
				tutor: tt.cfg,
				index: mock.NewIndex(mock.WithHits("loops?", hits...)),
			})

			resp, err := f.tutor.Handle(context.Background(), tg.Request{StudentID: "s1", Message: "loops?"})
			require.NoError(t, err)

			var ids []string
			for _, p := range resp.Sources {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantHead, resp.Sources[0].Content)
			if len(resp.Sources) > 1 {
				assert.Equal(t, "short", resp.Sources[1].Content)
			}
		})
	}
}

func TestTutor_FilterReachesIndex(t *testing.T) {
	var gotPrompt []tg.Message
	provider := mock.New(mock.WithResponseFunc(func(req tg.ProviderRequest) (tg.ProviderResponse, error) {
		gotPrompt = req.Messages
		return tg.ProviderResponse{Content: "ok"}, nil
	}))

	f := newTutorFixture(t, tutorSetup{
		index: mock.NewIndex(mock.WithHits("recursion?",
			tg.Hit{ID: "w2", Content: "Week two notes.", Score: 0.9, Metadata: map[string]string{"week": "2"}},
			tg.Hit{ID: "w5", Content: "Week five notes.", Score: 0.8, Metadata: map[string]string{"week": "5"}},
		)),
		links: []tg.Link{{Name: "primary", Provider: provider, Model: "m1"}},
	})

	resp, err := f.tutor.Handle(context.Background(), tg.Request{
		StudentID: "s1",
		Message:   "recursion?",
		Filter:    tg.Filter{"week": {"5"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "w5", resp.Sources[0].ID)
	require.NotEmpty(t, gotPrompt)
	assert.NotContains(t, gotPrompt[0].Content, "Week two notes.")
	assert.Contains(t, gotPrompt[0].Content, "Week five notes.")
}
