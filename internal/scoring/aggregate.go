package scoring

import (
	"github.com/cockroachdb/apd/v3"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// CategoryResult captures one category's contribution to the overall score.
type CategoryResult struct {
	Name     store.Category `json:"name"`
	Score    float64        `json:"score"`
	Weight   float64        `json:"weight"`
	Weighted float64        `json:"weighted"`
}

// Result is the complete aggregation output for one student.
type Result struct {
	OverallScore float64          `json:"overall_score"`
	Categories   []CategoryResult `json:"categories"`
	Tier         Tier             `json:"badge_tier"`
}

// Aggregator is the weighted additive combination of the five category scores.
type Aggregator struct {
	defaults WeightSet
}

// NewAggregator substitutes defaults for any invalid weight it is handed.
func NewAggregator(defaults WeightSet) *Aggregator {
	return &Aggregator{defaults: defaults.Sanitized(DefaultWeights())}
}

// Aggregate computes Σ score_i × weight_i / 100 rounded to two places. Category scores
// are first rounded to two places, the precision snapshots keep, so aggregating stored
// values reproduces the stored score. The result is not clamped: weights over 100 push
// the score past 100.
func (a *Aggregator) Aggregate(scores store.CategoryScores, weights WeightSet) Result {
	weights = weights.Sanitized(a.defaults)

	total := new(apd.Decimal)
	results := make([]CategoryResult, 0, len(store.Categories))
	for _, c := range store.Categories {
		score := Round2(scores.Get(c))
		w := weights.Get(c)
		contrib := weighted(score, w)
		_, _ = decimalCtx.Add(total, total, contrib)
		results = append(results, CategoryResult{
			Name:     c,
			Score:    score,
			Weight:   w,
			Weighted: toFloat(quantize2(contrib)),
		})
	}

	overall := toFloat(quantize2(total))
	return Result{
		OverallScore: overall,
		Categories:   results,
		Tier:         TierFor(overall),
	}
}

// Aggregate runs the default aggregator.
func Aggregate(scores store.CategoryScores, weights WeightSet) Result {
	return NewAggregator(DefaultWeights()).Aggregate(scores, weights)
}

// Scores returns the (rounded) category scores the result was computed from.
func (r Result) Scores() store.CategoryScores {
	var out store.CategoryScores
	for _, c := range r.Categories {
		out.Set(c.Name, c.Score)
	}
	return out
}

// Snapshot turns a result into the persisted form.
func (r Result) Snapshot(userID string) *store.Snapshot {
	return &store.Snapshot{
		UserID:     userID,
		Score:      r.OverallScore,
		Badge:      string(r.Tier),
		Categories: r.Scores(),
	}
}
