package tutorgate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrQuotaDenied          = errors.New("tutorgate: quota denied")
	ErrRetrievalUnavailable = errors.New("tutorgate: retrieval unavailable")
	ErrProviderExhausted    = errors.New("tutorgate: all providers exhausted")
	ErrRequestTimeout       = errors.New("tutorgate: request timeout")
	ErrNoProviders          = errors.New("tutorgate: no providers configured")
	ErrInvalidInput         = errors.New("tutorgate: invalid input")

	// Provider errors. Adapters return (or wrap) one of these.
	ErrRateLimited         = errors.New("tutorgate: rate limited by provider")
	ErrProviderUnavailable = errors.New("tutorgate: provider unavailable")
	ErrEmptyResponse       = errors.New("tutorgate: empty response from provider")
	ErrAuthFailed          = errors.New("tutorgate: authentication failed")
	ErrInvalidRequest      = errors.New("tutorgate: invalid request")
)

// DeniedError is returned when the quota ledger rejects a request.
type DeniedError struct {
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("tutorgate: quota denied: %s limit reached, resets at %s",
		e.Decision.Reason, e.Decision.ResetAt.UTC().Format(time.RFC3339))
}

func (e *DeniedError) Unwrap() error { return ErrQuotaDenied }

// ExhaustedError is returned when every provider of the chain failed.
type ExhaustedError struct {
	Attempts []ProviderAttempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("tutorgate: all providers exhausted after %d attempts: [%s]",
		len(e.Attempts), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() error { return ErrProviderExhausted }

// ProviderError wraps a non-transient provider error that aborted the chain.
type ProviderError struct {
	Err      error
	Provider string
	Model    string
	Attempts []ProviderAttempt
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tutorgate: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, len(e.Attempts), e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetrievalError is returned when every reformulation lookup failed.
type RetrievalError struct {
	Failures []error
}

func (e *RetrievalError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("tutorgate: retrieval unavailable: %d lookups failed: [%s]",
		len(e.Failures), strings.Join(parts, "; "))
}

func (e *RetrievalError) Unwrap() error { return ErrRetrievalUnavailable }

// Stage names a step of the tutor pipeline.
type Stage string

const (
	StageAdmitted   Stage = "admitted"
	StageRetrieving Stage = "retrieving"
	StageGenerating Stage = "generating"
	StageCompleted  Stage = "completed"
)

// TimeoutError is returned when the request deadline elapsed or the caller
// cancelled while the pipeline was in Stage.
type TimeoutError struct {
	Stage    Stage
	Err      error
	Attempts []ProviderAttempt
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tutorgate: request timeout during %s: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsFatal returns true if the error should not be retried with another provider.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error may succeed when the same provider is
// called again after a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Remedy tells the caller what to do about a terminal failure.
type Remedy int

const (
	RemedyNone Remedy = iota
	// RemedyWait: try again later (quota, timeout).
	RemedyWait
	// RemedyRetryNow: the service is degraded, an immediate retry may succeed.
	RemedyRetryNow
	// RemedyFix: the request itself is wrong.
	RemedyFix
)

func (r Remedy) String() string {
	switch r {
	case RemedyWait:
		return "wait"
	case RemedyRetryNow:
		return "retry-now"
	case RemedyFix:
		return "fix-request"
	default:
		return "none"
	}
}

// RemedyFor classifies a Tutor error for the surrounding service layer.
func RemedyFor(err error) Remedy {
	switch {
	case err == nil:
		return RemedyNone
	case errors.Is(err, ErrQuotaDenied), errors.Is(err, ErrRequestTimeout):
		return RemedyWait
	case errors.Is(err, ErrInvalidInput), IsFatal(err):
		return RemedyFix
	default:
		return RemedyRetryNow
	}
}
