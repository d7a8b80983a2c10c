package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/Badger/internal/hermes"
	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// DefaultLeaderboardLimit applies when a caller asks for a non-positive limit.
const DefaultLeaderboardLimit = store.DefaultSnapshotLimit

var errNoRanker = errors.New("no leaderboard cache configured")

// RecomputeReport summarises a sweep over every student.
type RecomputeReport struct {
	Total     int                   `json:"total"`
	Updated   int                   `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Stale     []*StaleSnapshotError `json:"-"`
}

// SnapshotView is a stored snapshot plus the raw attendance totals shown beside it.
// Rank is the leaderboard position from the ranking cache, 0 when unknown.
type SnapshotView struct {
	*store.Snapshot
	Rank             int64              `json:"rank,omitempty"`
	AttendancePoints int                `json:"attendance_points"`
	PointsRank       scoring.PointsRank `json:"points_rank"`
}

// SetWeights persists patch and re-aggregates every student under the new weights.
// The weights are saved even when snapshots fail to refresh: per-student failures come
// back in the report, a failed sweep as a *StaleSnapshotError.
func (e *Engine) SetWeights(ctx context.Context, patch scoring.WeightPatch, actor string) (scoring.WeightSet, *RecomputeReport, error) {
	next, err := e.weights.Set(ctx, patch, actor)
	if err != nil {
		return scoring.WeightSet{}, nil, err
	}
	e.logger.Info("weights updated", "weights", next.String(), "actor", actor)

	if e.hermes != nil {
		if perr := e.hermes.Publish(hermes.SubjectWeightsUpdated, hermes.WeightsUpdatedEvent{
			Academic:        next.Academic,
			Challenges:      next.Challenges,
			Mastery:         next.Mastery,
			Seminars:        next.Seminars,
			Extracurricular: next.Extracurricular,
			UpdatedBy:       actor,
			Timestamp:       e.now().UTC(),
		}); perr != nil {
			e.logger.Warn("failed to publish weights update", "error", perr)
		}
	}

	report, err := e.RecomputeAll(ctx, store.CategoryWeights)
	if err != nil {
		return next, report, e.stale("*", store.CategoryWeights, err)
	}
	return next, report, nil
}

// RecomputeAll runs one recomputation per student, sequentially. Only the listing
// failure aborts the sweep; per-student failures are collected as stale warnings.
func (e *Engine) RecomputeAll(ctx context.Context, category store.Category) (*RecomputeReport, error) {
	if _, ok := store.ParseCategory(string(category)); !ok {
		return nil, store.Invalid("unknown category %q", category)
	}
	ids, err := e.store.ListStudentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	report := &RecomputeReport{Total: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, store.Unavailable("recompute all", err)
		}
		changed, err := e.recomputeOne(ctx, id, category)
		switch {
		case err != nil:
			report.Stale = append(report.Stale, e.stale(id, category, err))
		case changed:
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	e.logger.Info("recompute sweep finished",
		"category", category,
		"total", report.Total,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"stale", len(report.Stale),
	)
	return report, nil
}

func (e *Engine) recomputeOne(ctx context.Context, key string, category store.Category) (bool, error) {
	release, err := e.locks.Acquire(ctx, key)
	if err != nil {
		return false, store.Unavailable("acquire student lock", err)
	}
	defer release()

	before, err := e.store.GetSnapshot(ctx, key)
	if err != nil {
		return false, err
	}
	after, err := e.recomputeLocked(ctx, key, category)
	if err != nil {
		return false, err
	}
	return before != after && !before.SameValues(after), nil
}

// Snapshot returns the stored snapshot without recomputing. A student who was never
// scored yields store.ErrNotFound.
func (e *Engine) Snapshot(ctx context.Context, identifier string) (*SnapshotView, error) {
	key, err := e.requireStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.GetSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot for %s: %w", key, store.ErrNotFound)
	}
	recs, err := e.store.ListAttendance(ctx, key)
	if err != nil {
		return nil, err
	}
	points := scoring.VerifiedPoints(recs)
	return &SnapshotView{
		Snapshot:         snap,
		Rank:             e.rank(ctx, key),
		AttendancePoints: points,
		PointsRank:       scoring.PointsRankFor(points),
	}, nil
}

// rank asks the ranking cache for key's position. The cache is best-effort.
func (e *Engine) rank(ctx context.Context, key string) int64 {
	if e.ranker == nil {
		return 0
	}
	r, err := e.ranker.Rank(ctx, key)
	if err != nil || r == nil {
		e.logger.Debug("no leaderboard rank", "user_id", key, "error", err)
		return 0
	}
	return r.Rank
}

// Aggregate computes the composite from current facts without persisting it.
func (e *Engine) Aggregate(ctx context.Context, identifier string) (*scoring.Result, error) {
	key, err := e.requireStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	var scores store.CategoryScores
	for _, c := range store.Categories {
		facts, err := loadFacts(ctx, e.store, key, c)
		if err != nil {
			return nil, err
		}
		scores.Set(c, scoring.CategoryScore(c, facts))
	}
	weights, err := e.weights.Get(ctx)
	if err != nil {
		return nil, err
	}
	res := e.aggregator.Aggregate(scores, weights)
	return &res, nil
}

// Leaderboard serves the ranking cache when one is configured and falls back to the
// store when the cache is unavailable.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]store.RankedSnapshot, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if e.ranker != nil {
		top, err := e.ranker.Top(ctx, limit)
		if err == nil {
			return top, nil
		}
		e.logger.Warn("leaderboard cache unavailable, reading store", "error", err)
	}
	return e.store.ListSnapshots(ctx, limit)
}

// RebuildLeaderboard reloads the ranking cache from stored snapshots.
func (e *Engine) RebuildLeaderboard(ctx context.Context) (int, error) {
	if e.ranker == nil {
		return 0, store.Unavailable("rebuild leaderboard", errNoRanker)
	}
	entries, err := e.store.ListSnapshots(ctx, -1)
	if err != nil {
		return 0, err
	}
	if err := e.ranker.Rebuild(ctx, entries); err != nil {
		return 0, store.Unavailable("rebuild leaderboard", err)
	}
	e.logger.Info("leaderboard rebuilt", "entries", len(entries))
	return len(entries), nil
}
