package hermes

const (
	// SubjectFactChanged is published by fact writers outside this service; every message
	// triggers a recomputation of the named category.
	SubjectFactChanged    = "badge.fact.changed"
	SubjectWeightsUpdated = "badge.weights.updated"

	StreamName   = "BADGE_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectSnapshotUpdated(userID string) string { return "badge.snapshot." + userID + ".updated" }
func SubjectSnapshotStale(userID string) string   { return "badge.snapshot." + userID + ".stale" }
func SubjectTierChanged(userID string) string     { return "badge.snapshot." + userID + ".tier_changed" }
