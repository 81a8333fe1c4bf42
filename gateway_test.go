package tutorgate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	tg "github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/policy"
	"github.com/ineyio/tutorgate/provider/mock"
)

var prompt = []tg.Message{{Role: tg.RoleUser, Content: "hello"}}

// fastRetry retries up to n times with a negligible backoff.
func fastRetry(n int) tg.GatewayOption {
	return tg.WithRetryPolicy(tg.RetryPolicy{MaxRetries: tg.IntPtr(n), InitialDelay: time.Millisecond})
}

func newTestGateway(t *testing.T, links []tg.Link, opts ...tg.GatewayOption) *tg.Gateway {
	t.Helper()
	g, err := tg.NewGateway(links, opts...)
	require.NoError(t, err)
	return g
}

func TestGateway_PrimaryTimesOutFallbackAnswers(t *testing.T) {
	primary := mock.New(mock.WithHang())
	fallback := mock.New(mock.WithContent("from fallback"))
	m := &recordingMeter{}

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary, Model: "big", Timeout: 50 * time.Millisecond},
		{Name: "fallback", Provider: fallback, Model: "small"},
	}, fastRetry(2), tg.WithGatewayMeter(m))

	c, err := g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)

	assert.Equal(t, "from fallback", c.Text)
	assert.Equal(t, "fallback", c.Provider)
	assert.Equal(t, "small", c.Model)

	require.Len(t, c.Attempts, 2)
	assert.Equal(t, tg.AttemptTimedOut, c.Attempts[0].Status)
	assert.Equal(t, 1, c.Attempts[0].Tries, "timeouts are not retried locally")
	assert.ErrorIs(t, c.Attempts[0].Err, context.DeadlineExceeded)
	assert.Equal(t, tg.AttemptSucceeded, c.Attempts[1].Status)
	assert.NotEqual(t, c.Attempts[0].ID, c.Attempts[1].ID)

	assert.EqualValues(t, 1, primary.CallCount())
	assert.EqualValues(t, 1, fallback.CallCount())

	events := m.attemptEvents()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Position)
	assert.Equal(t, 2, events[1].Position)
}

func TestGateway_LocalRetries(t *testing.T) {
	primary := mock.New(mock.WithErrors(tg.ErrRateLimited, tg.ErrProviderUnavailable))
	fallback := mock.New()

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(2))

	c, err := g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "primary", c.Provider)
	require.Len(t, c.Attempts, 1)
	assert.Equal(t, 3, c.Attempts[0].Tries)
	assert.EqualValues(t, 0, fallback.CallCount())
}

func TestGateway_RetriesExhaustedThenFallback(t *testing.T) {
	primary := mock.New(mock.WithError(tg.ErrProviderUnavailable))
	fallback := mock.New()

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(1))

	c, err := g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", c.Provider)
	assert.EqualValues(t, 2, primary.CallCount())
	assert.Equal(t, tg.AttemptFailed, c.Attempts[0].Status)
	assert.Equal(t, 2, c.Attempts[0].Tries)
}

func TestGateway_FatalErrorAbortsChain(t *testing.T) {
	primary := mock.New(mock.WithError(tg.ErrAuthFailed))
	fallback := mock.New()

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary, Model: "m"},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(2))

	_, err := g.Complete(context.Background(), prompt, tg.Params{})
	var pe *tg.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "primary", pe.Provider)
	assert.ErrorIs(t, err, tg.ErrAuthFailed)
	assert.Len(t, pe.Attempts, 1)
	assert.Equal(t, 1, pe.Attempts[0].Tries)
	assert.EqualValues(t, 0, fallback.CallCount())
	assert.Equal(t, tg.RemedyFix, tg.RemedyFor(err))
}

func TestGateway_Exhausted(t *testing.T) {
	g := newTestGateway(t, []tg.Link{
		{Name: "a", Provider: mock.New(mock.WithError(tg.ErrProviderUnavailable))},
		{Name: "b", Provider: mock.New(mock.WithContent("   "))},
	}, fastRetry(0))

	_, err := g.Complete(context.Background(), prompt, tg.Params{})
	var ex *tg.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.ErrorIs(t, err, tg.ErrProviderExhausted)
	require.Len(t, ex.Attempts, 2)
	assert.ErrorIs(t, ex.Attempts[1].Err, tg.ErrEmptyResponse)
	assert.Equal(t, tg.RemedyRetryNow, tg.RemedyFor(err))
}

func TestGateway_ClientRateLimit(t *testing.T) {
	primary := mock.New()
	fallback := mock.New()

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(1))

	c, err := g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "primary", c.Provider)

	c, err = g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", c.Provider)
	assert.ErrorIs(t, c.Attempts[0].Err, tg.ErrRateLimited)
	assert.EqualValues(t, 1, primary.CallCount(), "an empty bucket never reaches the provider")
}

func TestGateway_CallerCancelled(t *testing.T) {
	g := newTestGateway(t, []tg.Link{
		{Name: "slow", Provider: mock.New(mock.WithHang())},
		{Name: "never", Provider: mock.New()},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := g.Complete(ctx, prompt, tg.Params{})
	var te *tg.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tg.StageGenerating, te.Stage)
	assert.Len(t, te.Attempts, 1)
}

func TestGateway_FallbackOrderStableAcrossCalls(t *testing.T) {
	primary := mock.New(mock.WithHang())
	fallback := mock.New(mock.WithContent("ok"))

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary, Timeout: 10 * time.Millisecond},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(2))

	// Well past the health tracker's failure threshold.
	for call := range 6 {
		c, err := g.Complete(context.Background(), prompt, tg.Params{})
		require.NoError(t, err)
		require.Len(t, c.Attempts, 2, "call %d", call)
		assert.Equal(t, "primary", c.Attempts[0].Provider, "call %d", call)
		assert.Equal(t, tg.AttemptTimedOut, c.Attempts[0].Status, "call %d", call)
		assert.Equal(t, "fallback", c.Attempts[1].Provider, "call %d", call)
		assert.Equal(t, tg.AttemptSucceeded, c.Attempts[1].Status, "call %d", call)
		assert.Equal(t, "ok", c.Text)
	}
	assert.EqualValues(t, 6, primary.CallCount())
}

func TestGateway_DemotesUnhealthyLink(t *testing.T) {
	clock := newFakeClock()
	primary := mock.New(mock.WithError(tg.ErrProviderUnavailable))
	fallback := mock.New()

	g := newTestGateway(t, []tg.Link{
		{Name: "primary", Provider: primary},
		{Name: "fallback", Provider: fallback},
	}, fastRetry(0),
		tg.WithPolicy(&policy.HealthFirstPolicy{}),
		tg.WithHealthTracker(tg.NewHealthTracker(tg.WithHealthClock(clock.Now))))

	for range 3 {
		c, err := g.Complete(context.Background(), prompt, tg.Params{})
		require.NoError(t, err)
		assert.Len(t, c.Attempts, 2)
	}

	// Unhealthy: fallback is now tried first and answers alone.
	c, err := g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Len(t, c.Attempts, 1)
	assert.EqualValues(t, 3, primary.CallCount())

	// After the cool-down the primary is half-open and back in front.
	clock.Advance(time.Minute)
	c, err = g.Complete(context.Background(), prompt, tg.Params{})
	require.NoError(t, err)
	assert.Len(t, c.Attempts, 2)
	assert.EqualValues(t, 4, primary.CallCount())
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := tg.NewGateway(nil)
	assert.ErrorIs(t, err, tg.ErrNoProviders)

	_, err = tg.NewGateway([]tg.Link{{Name: "a"}})
	assert.Error(t, err, "provider required")

	_, err = tg.NewGateway([]tg.Link{{Provider: mock.New()}, {Provider: mock.New()}})
	assert.Error(t, err, "both links default to the provider name")

	_, err = tg.NewGateway([]tg.Link{{Provider: mock.New()}}, tg.WithRetryPolicy(tg.RetryPolicy{MaxRetries: tg.IntPtr(-1)}))
	assert.Error(t, err)

	_, err = newTestGateway(t, []tg.Link{{Provider: mock.New()}}).Complete(context.Background(), nil, tg.Params{})
	assert.ErrorIs(t, err, tg.ErrInvalidInput)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := tg.RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 300*time.Millisecond, p.Delay(2))
	assert.Equal(t, 900*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))

	p.Jitter = true
	for range 50 {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}

	assert.Equal(t, tg.DefaultMaxRetries+1, tg.RetryPolicy{}.Tries())
	assert.Equal(t, 1, tg.RetryPolicy{MaxRetries: tg.IntPtr(0)}.Tries())
}

func TestHealthTracker(t *testing.T) {
	clock := newFakeClock()
	h := tg.NewHealthTracker(tg.WithHealthClock(clock.Now))

	assert.Equal(t, tg.HealthHealthy, h.GetHealth("a"))
	h.RecordFailure("a")
	h.RecordFailure("a")
	assert.Equal(t, tg.HealthHealthy, h.GetHealth("a"))

	// Failures outside the window do not count.
	clock.Advance(6 * time.Minute)
	h.RecordFailure("a")
	assert.Equal(t, tg.HealthHealthy, h.GetHealth("a"))
	h.RecordFailure("a")
	h.RecordFailure("a")
	assert.Equal(t, tg.HealthUnhealthy, h.GetHealth("a"))

	clock.Advance(30 * time.Second)
	assert.Equal(t, tg.HealthHalfOpen, h.GetHealth("a"))

	// A failed trial request reopens the circuit.
	h.RecordFailure("a")
	assert.Equal(t, tg.HealthUnhealthy, h.GetHealth("a"))

	clock.Advance(30 * time.Second)
	require.Equal(t, tg.HealthHalfOpen, h.GetHealth("a"))
	h.RecordSuccess("a")
	assert.Equal(t, tg.HealthHealthy, h.GetHealth("a"))
}
