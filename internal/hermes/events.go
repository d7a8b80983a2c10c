package hermes

import "time"

// FactChangedEvent asks for a recomputation. Identifier may be an ID number, a login
// name or an internal key.
type FactChangedEvent struct {
	Identifier string `json:"identifier"`
	Category   string `json:"category"`
	Source     string `json:"source,omitempty"`
}

type SnapshotUpdatedEvent struct {
	UserID     string    `json:"user_id"`
	Score      float64   `json:"score"`
	BadgeTier  string    `json:"badge_tier"`
	Category   string    `json:"category"`
	ComputedAt time.Time `json:"computed_at"`
}

type TierChangedEvent struct {
	UserID   string  `json:"user_id"`
	Previous string  `json:"previous"`
	Current  string  `json:"current"`
	Score    float64 `json:"score"`
}

type SnapshotStaleEvent struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type WeightsUpdatedEvent struct {
	Academic        float64   `json:"academic"`
	Challenges      float64   `json:"challenges"`
	Mastery         float64   `json:"mastery"`
	Seminars        float64   `json:"seminars"`
	Extracurricular float64   `json:"extracurricular"`
	UpdatedBy       string    `json:"updated_by"`
	Timestamp       time.Time `json:"timestamp"`
}
