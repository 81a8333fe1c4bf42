package tutorgate

import "time"

// Meter observes orchestration events for monitoring/logging.
type Meter interface {
	// OnQuota is called after every admission check and token commit.
	OnQuota(event QuotaEvent)

	// OnRetrieval is called when a retrieval fan-out has been joined.
	OnRetrieval(event RetrievalEvent)

	// OnAttempt is called when a provider attempt reaches a terminal status.
	OnAttempt(event AttemptEvent)

	// OnRequest is called once per Tutor request with its outcome.
	OnRequest(event RequestEvent)
}

// QuotaEvent describes an admission decision, or a token commit when
// Committed is non-zero.
type QuotaEvent struct {
	UserID            string
	Allowed           bool
	Reason            DenyReason
	RemainingRequests int64
	RemainingTokens   int64
	ResetAt           time.Time
	FailedOpen        bool
	Committed         int64
	Error             error
}

// RetrievalEvent describes a joined retrieval fan-out.
type RetrievalEvent struct {
	Queries  int
	Failed   int
	Hits     int
	Returned int
	AvgScore float64
	Duration time.Duration
	Expanded bool
	Error    error

	// Compressed is set when a Compressor ran; Dropped counts the passages
	// it found irrelevant.
	Compressed bool
	Dropped    int
}

// AttemptEvent describes the outcome of one provider of the chain.
type AttemptEvent struct {
	Provider string
	Model    string
	Position int
	Status   AttemptStatus
	Tries    int
	Duration time.Duration
	Usage    Usage
	Error    error
}

// RequestEvent describes a finished Tutor request.
type RequestEvent struct {
	RequestID string
	StudentID string
	SessionID string
	Outcome   Outcome
	Stage     Stage
	Degraded  bool
	Provider  string
	Usage     Usage
	Duration  time.Duration
	Error     error
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnQuota(QuotaEvent)         {}
func (m *noopMeter) OnRetrieval(RetrievalEvent) {}
func (m *noopMeter) OnAttempt(AttemptEvent)     {}
func (m *noopMeter) OnRequest(RequestEvent)     {}
