package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/tutorgate"
)

// PrometheusMeter records orchestration events as Prometheus metrics.
type PrometheusMeter struct {
	quotaDecisions    *prometheus.CounterVec
	tokensCommitted   prometheus.Counter
	retrievals        *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	passagesReturned  prometheus.Histogram
	attempts          *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

var _ tutorgate.Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter registers the tutorgate metrics with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPrometheusMeter(reg prometheus.Registerer) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMeter{
		quotaDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgate_quota_decisions_total",
				Help: "Admission decisions by result and deny reason",
			},
			[]string{"result", "reason"},
		),
		tokensCommitted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tutorgate_quota_tokens_committed_total",
				Help: "Tokens charged against user quotas",
			},
		),
		retrievals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgate_retrievals_total",
				Help: "Retrieval fan-outs by status",
			},
			[]string{"status"},
		),
		retrievalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutorgate_retrieval_duration_seconds",
				Help:    "Duration of retrieval fan-outs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		passagesReturned: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutorgate_retrieval_passages",
				Help:    "Passages returned per retrieval",
				Buckets: prometheus.LinearBuckets(0, 2, 8),
			},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgate_provider_attempts_total",
				Help: "Provider attempts by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),
		attemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutorgate_provider_attempt_duration_seconds",
				Help:    "Duration of provider attempts in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgate_provider_tokens_total",
				Help: "Tokens reported by providers",
			},
			[]string{"provider", "model", "type"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutorgate_requests_total",
				Help: "Tutor requests by outcome",
			},
			[]string{"outcome", "degraded"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutorgate_request_duration_seconds",
				Help:    "Duration of tutor requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

func (p *PrometheusMeter) OnQuota(e tutorgate.QuotaEvent) {
	if e.Committed > 0 {
		if e.Error == nil {
			p.tokensCommitted.Add(float64(e.Committed))
		}
		return
	}

	result := "allowed"
	switch {
	case e.FailedOpen:
		result = "failed_open"
	case e.Error != nil:
		result = "error"
	case !e.Allowed:
		result = "denied"
	}
	p.quotaDecisions.WithLabelValues(result, string(e.Reason)).Inc()
}

func (p *PrometheusMeter) OnRetrieval(e tutorgate.RetrievalEvent) {
	status := "ok"
	switch {
	case e.Error != nil:
		status = "error"
	case e.Failed > 0:
		status = "partial"
	}
	p.retrievals.WithLabelValues(status).Inc()
	p.retrievalDuration.Observe(e.Duration.Seconds())
	if e.Error == nil {
		p.passagesReturned.Observe(float64(e.Returned))
	}
}

func (p *PrometheusMeter) OnAttempt(e tutorgate.AttemptEvent) {
	p.attempts.WithLabelValues(e.Provider, e.Model, e.Status.String()).Inc()
	p.attemptDuration.WithLabelValues(e.Provider, e.Model).Observe(e.Duration.Seconds())

	if e.Status == tutorgate.AttemptSucceeded {
		p.tokensTotal.WithLabelValues(e.Provider, e.Model, "prompt").Add(float64(e.Usage.PromptTokens))
		p.tokensTotal.WithLabelValues(e.Provider, e.Model, "completion").Add(float64(e.Usage.CompletionTokens))
	}
}

func (p *PrometheusMeter) OnRequest(e tutorgate.RequestEvent) {
	degraded := "false"
	if e.Degraded {
		degraded = "true"
	}
	p.requests.WithLabelValues(e.Outcome.String(), degraded).Inc()
	p.requestDuration.WithLabelValues(e.Outcome.String()).Observe(e.Duration.Seconds())
}
