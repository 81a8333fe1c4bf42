package meter

import "github.com/ineyio/tutorgate"

// Multi fans every event out to several meters in order.
type Multi []tutorgate.Meter

var _ tutorgate.Meter = Multi(nil)

func (m Multi) OnQuota(e tutorgate.QuotaEvent) {
	for _, mm := range m {
		mm.OnQuota(e)
	}
}

func (m Multi) OnRetrieval(e tutorgate.RetrievalEvent) {
	for _, mm := range m {
		mm.OnRetrieval(e)
	}
}

func (m Multi) OnAttempt(e tutorgate.AttemptEvent) {
	for _, mm := range m {
		mm.OnAttempt(e)
	}
}

func (m Multi) OnRequest(e tutorgate.RequestEvent) {
	for _, mm := range m {
		mm.OnRequest(e)
	}
}
