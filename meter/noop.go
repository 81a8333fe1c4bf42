package meter

import "github.com/ineyio/tutorgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ tutorgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnQuota(tutorgate.QuotaEvent)         {}
func (m *NoopMeter) OnRetrieval(tutorgate.RetrievalEvent) {}
func (m *NoopMeter) OnAttempt(tutorgate.AttemptEvent)     {}
func (m *NoopMeter) OnRequest(tutorgate.RequestEvent)     {}
