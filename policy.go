package tutorgate

// Policy orders the chain links tried for a completion.
type Policy interface {
	// Select orders candidates by priority. Returns ordered slice (highest priority first).
	// Implementations must not drop candidates and must be deterministic for a
	// given input.
	Select(candidates []Candidate) []Candidate
}

// Candidate is one chain link considered for a completion.
type Candidate struct {
	Link     Link
	Position int // index in the configured chain
	Health   HealthState
}

// Chain ordering policies selectable from GatewayConfig.Policy.
const (
	PolicyConfigOrder = "config_order"
	PolicyHealthFirst = "health_first"
)

// defaultConfigOrderPolicy is an inline copy of policy.ConfigOrderPolicy to
// avoid import cycles: links are tried exactly as configured.
type defaultConfigOrderPolicy struct{}

func (p *defaultConfigOrderPolicy) Select(candidates []Candidate) []Candidate {
	result := make([]Candidate, len(candidates))
	copy(result, candidates)
	return result
}
