package tutorgate

// buildCandidates snapshots the health of every link in configured order.
func buildCandidates(links []Link, health *HealthTracker) []Candidate {
	candidates := make([]Candidate, len(links))
	for i, l := range links {
		candidates[i] = Candidate{
			Link:     l,
			Position: i,
			Health:   health.GetHealth(l.Name),
		}
	}
	return candidates
}
