package scoring

import (
	"math"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// MaxSeminarScore caps the seminar category. Seminars are reported on a 0-10 scale and
// weighted unchanged, unlike the other categories which are percentages.
const MaxSeminarScore = 10

// StudentFacts bundles the raw inputs of every category. A provider reads only its own
// fields; unloaded fields are zero values and score 0.
type StudentFacts struct {
	Grades           *store.GradeRecord
	Submissions      []store.ChallengeSubmission
	ActiveChallenges []uuid.UUID
	Mastery          *store.MasteryRecord
	Attendance       []store.AttendanceRecord
	Activities       []store.ExtracurricularActivity
}

// CategoryScore dispatches to the provider for c.
func CategoryScore(c store.Category, f StudentFacts) float64 {
	switch c {
	case store.CategoryAcademic:
		return AcademicScore(f.Grades)
	case store.CategoryChallenges:
		return ChallengeScore(f.Submissions, f.ActiveChallenges)
	case store.CategoryMastery:
		return MasteryScore(f.Mastery)
	case store.CategorySeminars:
		return SeminarScore(f.Attendance)
	case store.CategoryExtracurricular:
		return ExtracurricularScore(f.Activities)
	}
	return 0
}

// AllScores runs every provider.
func AllScores(f StudentFacts) store.CategoryScores {
	var out store.CategoryScores
	for _, c := range store.Categories {
		out.Set(c, CategoryScore(c, f))
	}
	return out
}

// --- Individual providers ---

// AcademicScore is the mean of the years that have a grade. Missing years are excluded,
// not counted as zero.
func AcademicScore(g *store.GradeRecord) float64 {
	if g == nil {
		return 0
	}
	var sum float64
	n := 0
	for _, v := range g.Years {
		if v == nil || !finite(*v) {
			continue
		}
		sum += clamp(*v, 0, 100)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ChallengeScore averages the best attempt of each active challenge over the active
// catalog. Submissions to inactive challenges are kept but not scored, so no submission
// can move the denominator.
func ChallengeScore(subs []store.ChallengeSubmission, active []uuid.UUID) float64 {
	if len(active) == 0 {
		return 0
	}
	best := make(map[uuid.UUID]float64, len(active))
	for _, id := range active {
		best[id] = 0
	}
	for _, s := range subs {
		cur, ok := best[s.ChallengeID]
		if !ok || !finite(s.Percentage) {
			continue
		}
		if p := clamp(s.Percentage, 0, 100); p > cur {
			best[s.ChallengeID] = p
		}
	}
	denom := len(best)

	var sum float64
	for _, p := range best {
		sum += p
	}
	return clamp(sum/float64(denom), 0, 100)
}

// MasteryScore is the stored percentage clamped to [0,100].
func MasteryScore(m *store.MasteryRecord) float64 {
	if m == nil || m.Percentage == nil || !finite(*m.Percentage) {
		return 0
	}
	return clamp(*m.Percentage, 0, 100)
}

// VerifiedPoints sums the points of verified attendance records.
func VerifiedPoints(recs []store.AttendanceRecord) int {
	total := 0
	for _, r := range recs {
		if r.Verified && r.Points > 0 {
			total += r.Points
		}
	}
	return total
}

// SeminarScore converts verified attendance into min(floor(P/100), 10). The value stays
// on its 0-10 scale when weighted.
func SeminarScore(recs []store.AttendanceRecord) float64 {
	n := VerifiedPoints(recs) / 100
	if n > MaxSeminarScore {
		n = MaxSeminarScore
	}
	return float64(n)
}

// ExtracurricularScore sums verified activity scores. It has no cap.
func ExtracurricularScore(acts []store.ExtracurricularActivity) float64 {
	var sum float64
	for _, a := range acts {
		if a.Verified && finite(a.Score) && a.Score > 0 {
			sum += a.Score
		}
	}
	return sum
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
