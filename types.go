package tutorgate

import (
	"fmt"
	"time"
)

// Role identifies the author of a message or conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single prompt message sent to a completion provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Params holds optional generation parameters.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Passage is a retrieved piece of course material.
// Passages are never mutated after the retrieval call that produced them.
type Passage struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float64           `json:"score"`
	QueryIndex int               `json:"query_index"`
	Hash       string            `json:"hash"`
}

// AttemptStatus is the state of a single provider attempt.
type AttemptStatus int

const (
	AttemptPending AttemptStatus = iota
	AttemptSucceeded
	AttemptFailed
	AttemptTimedOut
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptPending:
		return "pending"
	case AttemptSucceeded:
		return "succeeded"
	case AttemptFailed:
		return "failed"
	case AttemptTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// ProviderAttempt records the outcome of calling one provider of the chain,
// including its local retries.
type ProviderAttempt struct {
	ID       string
	Provider string
	Model    string
	Status   AttemptStatus
	Tries    int
	Latency  time.Duration
	Err      error
}

// Failed reports whether the attempt ended without a completion.
func (a ProviderAttempt) Failed() bool {
	return a.Status == AttemptFailed || a.Status == AttemptTimedOut
}

func (a ProviderAttempt) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s/%s: %s after %d tries: %v", a.Provider, a.Model, a.Status, a.Tries, a.Err)
	}
	return fmt.Sprintf("%s/%s: %s after %d tries", a.Provider, a.Model, a.Status, a.Tries)
}

// Completion is a successful gateway result.
type Completion struct {
	Text         string
	FinishReason string
	Usage        Usage
	Provider     string
	Model        string
	Attempts     []ProviderAttempt
}

// SessionState is a snapshot of a session's recent turns, oldest first.
type SessionState struct {
	ID    string
	Turns []Turn
}

// Request is a student message handed to the Tutor.
type Request struct {
	StudentID string
	SessionID string
	Message   string
	Params    Params

	// Filter restricts retrieval by passage metadata, e.g. {"topic": {"loops"}}.
	Filter Filter
}

// Outcome is the terminal state of a Tutor request.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeDenied
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDenied:
		return "denied"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// RateLimitStatus is surfaced alongside every Tutor response.
type RateLimitStatus struct {
	RemainingRequests int64     `json:"remaining_requests"`
	RemainingTokens   int64     `json:"remaining_tokens"`
	ResetAt           time.Time `json:"reset_at"`
}

// Response is the result of Tutor.Handle.
type Response struct {
	RequestID string
	SessionID string
	Outcome   Outcome
	Text      string
	// Sources are the passages the answer drew on, best first, capped and
	// cut to a preview by TutorConfig.
	Sources   []Passage
	Degraded  bool
	Provider  string
	Model     string
	Usage     Usage
	Attempts  []ProviderAttempt
	RateLimit RateLimitStatus
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
