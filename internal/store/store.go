package store

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Category is one of the five scoring dimensions.
type Category string

const (
	CategoryAcademic        Category = "academic"
	CategoryChallenges      Category = "challenges"
	CategoryMastery         Category = "mastery"
	CategorySeminars        Category = "seminars"
	CategoryExtracurricular Category = "extracurricular"

	// CategoryAll asks for every provider to be re-run.
	CategoryAll Category = "all"
	// CategoryWeights re-aggregates with fresh weights without re-running any provider.
	CategoryWeights Category = "weights"
)

// Categories lists the scoring dimensions in aggregation order.
var Categories = []Category{
	CategoryAcademic,
	CategoryChallenges,
	CategoryMastery,
	CategorySeminars,
	CategoryExtracurricular,
}

// ParseCategory accepts a scoring dimension or one of the pseudo categories.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryAcademic, CategoryChallenges, CategoryMastery, CategorySeminars,
		CategoryExtracurricular, CategoryAll, CategoryWeights:
		return c, true
	}
	return "", false
}

type StudentAccount struct {
	UserID    string `json:"user_id"`
	IDNumber  string `json:"id_number,omitempty"`
	LoginName string `json:"login_name"`
	FullName  string `json:"full_name"`
}

// GradeRecord holds one value per academic year; nil means not entered yet.
type GradeRecord struct {
	UserID string      `json:"user_id"`
	Years  [4]*float64 `json:"years"`
}

type MasteryRecord struct {
	UserID     string   `json:"user_id"`
	Percentage *float64 `json:"percentage,omitempty"`
}

type Challenge struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ChallengeSubmission struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	ChallengeID uuid.UUID `json:"challenge_id"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// DefaultAttendancePoints is the business default for one verified event.
const DefaultAttendancePoints = 100

type AttendanceRecord struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	EventName  string    `json:"event_name"`
	Points     int       `json:"points"`
	Verified   bool      `json:"verified"`
	RecordedAt time.Time `json:"recorded_at"`
}

type ExtracurricularActivity struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title"`
	Score      float64   `json:"score"`
	Verified   bool      `json:"verified"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ScoreWeights is the persisted weight row. Values are percentages.
type ScoreWeights struct {
	Academic        float64   `json:"academic"`
	Challenges      float64   `json:"challenges"`
	Mastery         float64   `json:"mastery"`
	Seminars        float64   `json:"seminars"`
	Extracurricular float64   `json:"extracurricular"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CategoryScores carries the five category values. Seminars is on a 0-10 scale,
// the others on 0-100 (extracurricular is unbounded).
type CategoryScores struct {
	Academic        float64 `json:"academic"`
	Challenges      float64 `json:"challenges"`
	Mastery         float64 `json:"mastery"`
	Seminars        float64 `json:"seminars"`
	Extracurricular float64 `json:"extracurricular"`
}

func (c CategoryScores) Get(cat Category) float64 {
	switch cat {
	case CategoryAcademic:
		return c.Academic
	case CategoryChallenges:
		return c.Challenges
	case CategoryMastery:
		return c.Mastery
	case CategorySeminars:
		return c.Seminars
	case CategoryExtracurricular:
		return c.Extracurricular
	}
	return 0
}

func (c *CategoryScores) Set(cat Category, v float64) {
	switch cat {
	case CategoryAcademic:
		c.Academic = v
	case CategoryChallenges:
		c.Challenges = v
	case CategoryMastery:
		c.Mastery = v
	case CategorySeminars:
		c.Seminars = v
	case CategoryExtracurricular:
		c.Extracurricular = v
	}
}

// Snapshot is the persisted composite score of one student. It is derived data.
type Snapshot struct {
	UserID     string         `json:"user_id"`
	Score      float64        `json:"score"`
	Badge      string         `json:"badge_color"`
	Categories CategoryScores `json:"categories"`
	ComputedAt time.Time      `json:"computed_at"`
	// Stale is set when a recomputation failed after its fact was committed. The next
	// recomputation re-runs every category and clears it.
	Stale bool `json:"stale"`
}

// SameValues reports whether two snapshots carry the same score, badge and categories
// at the two decimal places the store keeps.
func (s *Snapshot) SameValues(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.UserID != o.UserID || s.Badge != o.Badge || !sameCents(s.Score, o.Score) {
		return false
	}
	for _, c := range Categories {
		if !sameCents(s.Categories.Get(c), o.Categories.Get(c)) {
			return false
		}
	}
	return true
}

func sameCents(a, b float64) bool {
	return math.Round(a*100) == math.Round(b*100)
}

const DefaultSnapshotLimit = 100

type RankedSnapshot struct {
	Rank   int64   `json:"rank"`
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
	Badge  string  `json:"badge_color"`
}

// Facts is the read/write surface over student accounts, category facts, weights and
// snapshots. It is implemented both outside and inside a student transaction.
type Facts interface {
	// Accounts. Lookups return "" when nothing matches.
	FindUserIDByIDNumber(ctx context.Context, idNumber string) (string, error)
	FindUserIDByLoginName(ctx context.Context, loginName string) (string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	GetAccount(ctx context.Context, userID string) (*StudentAccount, error)
	CreateStudent(ctx context.Context, account *StudentAccount) error
	ListStudentIDs(ctx context.Context) ([]string, error)

	// Grades and mastery live on the profile.
	GetGrades(ctx context.Context, userID string) (*GradeRecord, error)
	SetGrade(ctx context.Context, userID string, year int, value *float64) error
	GetMastery(ctx context.Context, userID string) (*MasteryRecord, error)
	SetMastery(ctx context.Context, userID string, pct float64) error

	// Challenges
	CreateChallenge(ctx context.Context, c *Challenge) error
	ChallengeExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListActiveChallengeIDs(ctx context.Context) ([]uuid.UUID, error)
	CreateChallengeSubmission(ctx context.Context, sub *ChallengeSubmission) error
	ListChallengeSubmissions(ctx context.Context, userID string) ([]ChallengeSubmission, error)

	// Attendance
	CreateAttendance(ctx context.Context, rec *AttendanceRecord) error
	SetAttendanceVerified(ctx context.Context, userID string, id uuid.UUID, verified bool) (*AttendanceRecord, error)
	DeleteAttendance(ctx context.Context, userID string, id uuid.UUID) error
	ListAttendance(ctx context.Context, userID string) ([]AttendanceRecord, error)

	// Extracurricular
	CreateExtracurricular(ctx context.Context, act *ExtracurricularActivity) error
	DeleteExtracurricular(ctx context.Context, userID string, id uuid.UUID) error
	ListExtracurricular(ctx context.Context, userID string) ([]ExtracurricularActivity, error)

	// Weights; GetWeights returns nil when none were ever saved.
	GetWeights(ctx context.Context) (*ScoreWeights, error)
	SaveWeights(ctx context.Context, w *ScoreWeights) error

	// Snapshots; GetSnapshot returns nil when never computed. ListSnapshots takes
	// DefaultSnapshotLimit for limit 0 and everything for a negative limit.
	GetSnapshot(ctx context.Context, userID string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	// MarkSnapshotStale flags the stored snapshot; it is a no-op when none exists.
	MarkSnapshotStale(ctx context.Context, userID string) error
	ListSnapshots(ctx context.Context, limit int) ([]RankedSnapshot, error)
}

type Store interface {
	Facts

	// WithStudentTx runs fn in one transaction that holds the per-student lock for
	// userID. Writers for other students are not blocked.
	WithStudentTx(ctx context.Context, userID string, fn func(tx Facts) error) error

	Mode() SchemaMode
	Close() error
}
