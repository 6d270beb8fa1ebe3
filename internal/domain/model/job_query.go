package model

// JobFilter narrows a job listing. Zero-value fields are ignored.
// Results are always ordered by created_at descending.
type JobFilter struct {
	Plugin      string
	RequestedBy string
	Status      JobStatus
	Limit       int
}

// DefaultListLimit caps unbounded listings.
const DefaultListLimit = 100

// EffectiveLimit returns the limit to apply, clamped to DefaultListLimit when
// unset or out of range.
func (f JobFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return f.Limit
}
