package policy

import (
	"sort"

	"github.com/ineyio/tutorgate"
)

// HealthFirstPolicy demotes links whose circuit is open: healthy links first,
// then half-open ones, then unhealthy ones. Configured order is kept within
// each group, and no link is ever dropped.
type HealthFirstPolicy struct{}

var _ tutorgate.Policy = (*HealthFirstPolicy)(nil)

// Select orders candidates by health, then by position.
func (p *HealthFirstPolicy) Select(candidates []tutorgate.Candidate) []tutorgate.Candidate {
	result := make([]tutorgate.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := rank(result[i].Health), rank(result[j].Health)
		if ri != rj {
			return ri < rj
		}
		return result[i].Position < result[j].Position
	})

	return result
}

func rank(h tutorgate.HealthState) int {
	switch h {
	case tutorgate.HealthHealthy:
		return 0
	case tutorgate.HealthHalfOpen:
		return 1
	default:
		return 2
	}
}
