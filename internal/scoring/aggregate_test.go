package scoring

import (
	"math"
	"testing"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func TestDefaultWeightsValid(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	if w.Sum() != 100 {
		t.Errorf("default weights sum to %f, expected 100", w.Sum())
	}
}

func TestWeightValidation(t *testing.T) {
	tests := []struct {
		name    string
		w       WeightSet
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"sum over 100 allowed", WeightSet{Academic: 200}, false},
		{"all zero allowed", WeightSet{}, false},
		{"negative", WeightSet{Academic: 30, Seminars: -1}, true},
		{"nan", WeightSet{Mastery: math.NaN()}, true},
		{"inf", WeightSet{Challenges: math.Inf(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWeightPatchApply(t *testing.T) {
	v := 45.0
	got := WeightPatch{Academic: &v}.Apply(DefaultWeights())
	if got.Academic != 45 {
		t.Errorf("expected academic 45, got %f", got.Academic)
	}
	if got.Mastery != 20 {
		t.Errorf("expected untouched mastery 20, got %f", got.Mastery)
	}
	if !(WeightPatch{}).Empty() {
		t.Error("expected empty patch")
	}
}

func TestAggregateNoFacts(t *testing.T) {
	r := Aggregate(store.CategoryScores{}, DefaultWeights())
	if r.OverallScore != 0 {
		t.Errorf("expected 0, got %f", r.OverallScore)
	}
	if r.Tier != TierWarning {
		t.Errorf("expected warning, got %s", r.Tier)
	}
	if len(r.Categories) != 5 {
		t.Errorf("expected 5 categories, got %d", len(r.Categories))
	}
}

func TestAggregateNotClamped(t *testing.T) {
	r := Aggregate(store.CategoryScores{Academic: 80}, WeightSet{Academic: 200})
	if r.OverallScore != 160.00 {
		t.Errorf("expected 160.00, got %f", r.OverallScore)
	}
	if r.Tier != TierPlatinum {
		t.Errorf("expected platinum, got %s", r.Tier)
	}
}

func TestAggregateDefaultWeights(t *testing.T) {
	scores := store.CategoryScores{Academic: 90, Challenges: 80, Mastery: 70, Seminars: 10, Extracurricular: 50}
	// 27 + 16 + 14 + 1 + 10
	r := Aggregate(scores, DefaultWeights())
	if r.OverallScore != 68 {
		t.Errorf("expected 68, got %f", r.OverallScore)
	}
	if r.Tier != TierBronze {
		t.Errorf("expected bronze, got %s", r.Tier)
	}
}

func TestAggregateSeminarScaleFedAsObserved(t *testing.T) {
	// Ten seminars max out the category at 10, contributing only 1 point at weight 10.
	r := Aggregate(store.CategoryScores{Seminars: 10}, DefaultWeights())
	if r.OverallScore != 1 {
		t.Errorf("expected 1, got %f", r.OverallScore)
	}
}

func TestAggregateWeightIndependence(t *testing.T) {
	scores := store.CategoryScores{Academic: 83.2, Challenges: 61.5, Mastery: 77, Seminars: 4, Extracurricular: 130}
	base := DefaultWeights()
	before := Aggregate(scores, base)

	changed := base
	changed.Mastery += 10
	after := Aggregate(scores, changed)

	delta := after.OverallScore - before.OverallScore
	if math.Abs(delta-77*10.0/100) > 1e-9 {
		t.Errorf("expected delta 7.7, got %f", delta)
	}
}

func TestAggregateInvalidWeightsUseDefaults(t *testing.T) {
	scores := store.CategoryScores{Academic: 100}
	r := Aggregate(scores, WeightSet{Academic: -5})
	if r.OverallScore != 30 {
		t.Errorf("expected default academic weight 30 to apply, got %f", r.OverallScore)
	}
	r = Aggregate(scores, WeightSet{Academic: math.NaN()})
	if r.OverallScore != 30 {
		t.Errorf("expected default academic weight 30 for NaN, got %f", r.OverallScore)
	}
}

func TestAggregateRoundsHalfAwayFromZero(t *testing.T) {
	// 0.125 at weight 100 sits exactly on the half.
	r := Aggregate(store.CategoryScores{Academic: 0.125}, WeightSet{Academic: 100})
	if r.OverallScore != 0.13 {
		t.Errorf("expected 0.13, got %f", r.OverallScore)
	}
	if got := Round2(2.675); got != 2.68 {
		t.Errorf("expected 2.68, got %f", got)
	}
	if got := Round2(-2.675); got != -2.68 {
		t.Errorf("expected -2.68, got %f", got)
	}
}

func TestResultSnapshot(t *testing.T) {
	scores := store.CategoryScores{Academic: 83.333333, Extracurricular: 250}
	r := Aggregate(scores, DefaultWeights())
	snap := r.Snapshot("u1")
	if snap.Categories.Academic != 83.33 {
		t.Errorf("expected category stored at 83.33, got %f", snap.Categories.Academic)
	}
	if snap.Categories.Extracurricular != 250 {
		t.Errorf("expected uncapped 250, got %f", snap.Categories.Extracurricular)
	}
	if snap.Badge != string(r.Tier) {
		t.Errorf("badge mismatch: %s vs %s", snap.Badge, r.Tier)
	}

	again := Aggregate(snap.Categories, DefaultWeights())
	if again.OverallScore != r.OverallScore {
		t.Errorf("aggregating stored values gave %f, expected %f", again.OverallScore, r.OverallScore)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{160, TierPlatinum},
		{95, TierPlatinum},
		{94.99, TierGold},
		{85, TierGold},
		{75, TierSilver},
		{65, TierBronze},
		{50, TierRisingStar},
		{49.99, TierWarning},
		{0, TierWarning},
		{-3, TierWarning},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestPointsRankFor(t *testing.T) {
	tests := map[int]PointsRank{
		1200: RankDiamond,
		1000: RankDiamond,
		800:  RankPlatinum,
		650:  RankGold,
		400:  RankSilver,
		200:  RankBronze,
		199:  RankBeginner,
	}
	for points, want := range tests {
		if got := PointsRankFor(points); got != want {
			t.Errorf("PointsRankFor(%d) = %s, want %s", points, got, want)
		}
	}
}
