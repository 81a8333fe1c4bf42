package policy

import "github.com/ineyio/tutorgate"

// ConfigOrderPolicy tries links exactly in configured order, regardless of
// health.
type ConfigOrderPolicy struct{}

var _ tutorgate.Policy = (*ConfigOrderPolicy)(nil)

// Select returns a copy of candidates in configured order.
func (p *ConfigOrderPolicy) Select(candidates []tutorgate.Candidate) []tutorgate.Candidate {
	result := make([]tutorgate.Candidate, len(candidates))
	copy(result, candidates)
	return result
}
