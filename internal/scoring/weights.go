package scoring

import (
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// WeightSet defines the relative importance of each category, as percentages.
// The sum is not constrained.
type WeightSet struct {
	Academic        float64 `json:"academic" yaml:"academic"`
	Challenges      float64 `json:"challenges" yaml:"challenges"`
	Mastery         float64 `json:"mastery" yaml:"mastery"`
	Seminars        float64 `json:"seminars" yaml:"seminars"`
	Extracurricular float64 `json:"extracurricular" yaml:"extracurricular"`
}

// DefaultWeights returns the 30/20/20/10/20 distribution.
func DefaultWeights() WeightSet {
	return WeightSet{
		Academic:        30,
		Challenges:      20,
		Mastery:         20,
		Seminars:        10,
		Extracurricular: 20,
	}
}

// Sum returns the total of all weights.
func (w WeightSet) Sum() float64 {
	return w.Academic + w.Challenges + w.Mastery + w.Seminars + w.Extracurricular
}

// Get returns the weight of one category.
func (w WeightSet) Get(c store.Category) float64 {
	switch c {
	case store.CategoryAcademic:
		return w.Academic
	case store.CategoryChallenges:
		return w.Challenges
	case store.CategoryMastery:
		return w.Mastery
	case store.CategorySeminars:
		return w.Seminars
	case store.CategoryExtracurricular:
		return w.Extracurricular
	}
	return 0
}

// Validate rejects negative and non-finite weights.
func (w WeightSet) Validate() error {
	for _, c := range store.Categories {
		if !validWeight(w.Get(c)) {
			return store.Invalid("weight %s must be a finite non-negative number, got %v", c, w.Get(c))
		}
	}
	return nil
}

func validWeight(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Sanitized replaces every invalid weight by the matching value in fallback.
func (w WeightSet) Sanitized(fallback WeightSet) WeightSet {
	fix := func(v, d float64) float64 {
		if validWeight(v) {
			return v
		}
		return d
	}
	return WeightSet{
		Academic:        fix(w.Academic, fallback.Academic),
		Challenges:      fix(w.Challenges, fallback.Challenges),
		Mastery:         fix(w.Mastery, fallback.Mastery),
		Seminars:        fix(w.Seminars, fallback.Seminars),
		Extracurricular: fix(w.Extracurricular, fallback.Extracurricular),
	}
}

func (w WeightSet) String() string {
	return fmt.Sprintf("academic=%g challenges=%g mastery=%g seminars=%g extracurricular=%g",
		w.Academic, w.Challenges, w.Mastery, w.Seminars, w.Extracurricular)
}

// WeightPatch is a partial update; nil fields keep their current value.
type WeightPatch struct {
	Academic        *float64 `json:"academic,omitempty"`
	Challenges      *float64 `json:"challenges,omitempty"`
	Mastery         *float64 `json:"mastery,omitempty"`
	Seminars        *float64 `json:"seminars,omitempty"`
	Extracurricular *float64 `json:"extracurricular,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p WeightPatch) Empty() bool {
	return p.Academic == nil && p.Challenges == nil && p.Mastery == nil &&
		p.Seminars == nil && p.Extracurricular == nil
}

// Apply returns w with the patch's fields overlaid.
func (p WeightPatch) Apply(w WeightSet) WeightSet {
	if p.Academic != nil {
		w.Academic = *p.Academic
	}
	if p.Challenges != nil {
		w.Challenges = *p.Challenges
	}
	if p.Mastery != nil {
		w.Mastery = *p.Mastery
	}
	if p.Seminars != nil {
		w.Seminars = *p.Seminars
	}
	if p.Extracurricular != nil {
		w.Extracurricular = *p.Extracurricular
	}
	return w
}

// FromStored converts the persisted row.
func FromStored(sw *store.ScoreWeights) WeightSet {
	return WeightSet{
		Academic:        sw.Academic,
		Challenges:      sw.Challenges,
		Mastery:         sw.Mastery,
		Seminars:        sw.Seminars,
		Extracurricular: sw.Extracurricular,
	}
}

// ToStored converts w for persistence.
func (w WeightSet) ToStored(actor string) *store.ScoreWeights {
	return &store.ScoreWeights{
		Academic:        w.Academic,
		Challenges:      w.Challenges,
		Mastery:         w.Mastery,
		Seminars:        w.Seminars,
		Extracurricular: w.Extracurricular,
		UpdatedBy:       actor,
	}
}
