package meter

import (
	"log/slog"

	"github.com/ineyio/tutorgate"
)

// LogMeter logs orchestration events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ tutorgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnQuota(e tutorgate.QuotaEvent) {
	if e.Committed > 0 {
		if e.Error != nil {
			m.Logger.Warn("quota_commit_error",
				"user", e.UserID,
				"tokens", e.Committed,
				"error", e.Error,
			)
			return
		}
		m.Logger.Debug("quota_commit",
			"user", e.UserID,
			"tokens", e.Committed,
			"remaining_tokens", e.RemainingTokens,
		)
		return
	}

	switch {
	case e.Error != nil:
		m.Logger.Warn("quota_error",
			"user", e.UserID,
			"allowed", e.Allowed,
			"failed_open", e.FailedOpen,
			"error", e.Error,
		)
	case !e.Allowed:
		m.Logger.Info("quota_denied",
			"user", e.UserID,
			"reason", string(e.Reason),
			"reset_at", e.ResetAt,
		)
	default:
		m.Logger.Debug("quota_admitted",
			"user", e.UserID,
			"remaining_requests", e.RemainingRequests,
			"remaining_tokens", e.RemainingTokens,
		)
	}
}

func (m *LogMeter) OnRetrieval(e tutorgate.RetrievalEvent) {
	if e.Error != nil {
		m.Logger.Warn("retrieval_error",
			"queries", e.Queries,
			"failed", e.Failed,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
		return
	}
	m.Logger.Info("retrieval",
		"queries", e.Queries,
		"failed", e.Failed,
		"hits", e.Hits,
		"returned", e.Returned,
		"avg_score", e.AvgScore,
		"expanded", e.Expanded,
		"compressed", e.Compressed,
		"dropped", e.Dropped,
		"duration_ms", e.Duration.Milliseconds(),
	)
}

func (m *LogMeter) OnAttempt(e tutorgate.AttemptEvent) {
	if e.Status == tutorgate.AttemptSucceeded {
		m.Logger.Info("attempt",
			"provider", e.Provider,
			"model", e.Model,
			"position", e.Position,
			"tries", e.Tries,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
		return
	}
	m.Logger.Warn("attempt_error",
		"provider", e.Provider,
		"model", e.Model,
		"position", e.Position,
		"status", e.Status.String(),
		"tries", e.Tries,
		"duration_ms", e.Duration.Milliseconds(),
		"error", e.Error,
	)
}

func (m *LogMeter) OnRequest(e tutorgate.RequestEvent) {
	attrs := []any{
		"request_id", e.RequestID,
		"student", e.StudentID,
		"session", e.SessionID,
		"outcome", e.Outcome.String(),
		"stage", string(e.Stage),
		"degraded", e.Degraded,
		"duration_ms", e.Duration.Milliseconds(),
	}
	if e.Outcome == tutorgate.OutcomeCompleted {
		m.Logger.Info("request", append(attrs,
			"provider", e.Provider,
			"total_tokens", e.Usage.TotalTokens,
		)...)
		return
	}
	m.Logger.Warn("request_error", append(attrs, "error", e.Error)...)
}
