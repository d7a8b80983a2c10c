// Package engine keeps each student's composite snapshot in step with their facts.
// Every fact write goes through the engine, which commits the fact and then
// recomputes the affected category under a per-student critical section.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Badger/internal/hermes"
	"github.com/MikeSquared-Agency/Badger/internal/resolver"
	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// DefaultRecomputeTimeout bounds one recomputation when no timeout is configured.
const DefaultRecomputeTimeout = 5 * time.Second

// Ranker mirrors snapshot scores into a ranking cache.
type Ranker interface {
	Update(ctx context.Context, snap *store.Snapshot) error
	Top(ctx context.Context, limit int) ([]store.RankedSnapshot, error)
	Rank(ctx context.Context, userID string) (*store.RankedSnapshot, error)
	Rebuild(ctx context.Context, entries []store.RankedSnapshot) error
}

type Options struct {
	DefaultWeights   scoring.WeightSet
	RecomputeTimeout time.Duration
	Hermes           hermes.Client
	Ranker           Ranker
	Registerer       prometheus.Registerer
	Logger           *slog.Logger
	Now              func() time.Time
}

type Engine struct {
	store      store.Store
	resolver   *resolver.Resolver
	weights    *WeightConfig
	aggregator *scoring.Aggregator
	locks      *keyedLocks
	timeout    time.Duration
	// unmarked holds students whose stale flag could not be persisted.
	unmarked sync.Map

	hermes   hermes.Client
	ranker   Ranker
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

func New(s store.Store, opts Options) *Engine {
	defaults := opts.DefaultWeights
	if defaults == (scoring.WeightSet{}) {
		defaults = scoring.DefaultWeights()
	}
	timeout := opts.RecomputeTimeout
	if timeout <= 0 {
		timeout = DefaultRecomputeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:      s,
		resolver:   resolver.New(s),
		weights:    NewWeightConfig(s, defaults),
		aggregator: scoring.NewAggregator(defaults),
		locks:      newKeyedLocks(),
		timeout:    timeout,
		hermes:     opts.Hermes,
		ranker:     opts.Ranker,
		metrics:    NewMetrics(opts.Registerer),
		logger:     logger,
		now:        now,
		validate:   validator.New(),
	}
}

func (e *Engine) Weights() *WeightConfig { return e.weights }
func (e *Engine) Mode() store.SchemaMode { return e.store.Mode() }

// OnFactChanged recomputes the snapshot of the student named by identifier after a
// change in category. It is idempotent: with no fact change in between, a second call
// writes nothing and returns the same snapshot.
//
// An unknown student yields store.ErrNotFound. Any other failure is returned as a
// *StaleSnapshotError.
func (e *Engine) OnFactChanged(ctx context.Context, identifier string, category store.Category) (*store.Snapshot, error) {
	if _, ok := store.ParseCategory(string(category)); !ok {
		return nil, store.Invalid("unknown category %q", category)
	}

	key, err := e.requireStudent(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, e.stale(identifier, category, err)
	}

	release, err := e.locks.Acquire(ctx, key)
	if err != nil {
		return nil, e.stale(key, category, store.Unavailable("acquire student lock", err))
	}
	defer release()

	snap, err := e.recomputeLocked(ctx, key, category)
	if err != nil {
		return nil, e.stale(key, category, err)
	}
	return snap, nil
}

// HandleFactChanged adapts OnFactChanged to bus triggers. An empty category means all.
func (e *Engine) HandleFactChanged(ctx context.Context, ev hermes.FactChangedEvent) error {
	category := store.CategoryAll
	if ev.Category != "" {
		category = store.Category(ev.Category)
	}
	_, err := e.OnFactChanged(ctx, ev.Identifier, category)
	return err
}

// requireStudent resolves identifier and insists it names an existing account.
func (e *Engine) requireStudent(ctx context.Context, identifier string) (string, error) {
	res, err := e.resolver.Resolve(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !res.Found() {
		return "", fmt.Errorf("student %q: %w", identifier, store.ErrNotFound)
	}
	return res.Key, nil
}

// recomputeLocked must run while the caller holds the student's lock.
func (e *Engine) recomputeLocked(ctx context.Context, key string, category store.Category) (*store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()

	var prev, saved *store.Snapshot
	err := e.store.WithStudentTx(ctx, key, func(tx store.Facts) error {
		var err error
		prev, err = tx.GetSnapshot(ctx, key)
		if err != nil {
			return err
		}

		scores, err := e.categoryScores(ctx, tx, key, category, prev)
		if err != nil {
			return err
		}
		weights, err := e.weights.read(ctx, tx)
		if err != nil {
			return err
		}

		next := e.aggregator.Aggregate(scores, weights).Snapshot(key)
		if !e.needsFullRun(key, prev) && prev.SameValues(next) {
			saved = prev
			return nil
		}
		next.ComputedAt = e.now().UTC()
		if err := tx.SaveSnapshot(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	e.metrics.duration.Observe(time.Since(start).Seconds())

	if err != nil {
		e.metrics.recomputes.WithLabelValues(string(category), resultFailed).Inc()
		if ctx.Err() != nil || store.IsTimeout(err) {
			err = store.Unavailable("recompute timed out", err)
		}
		e.markStale(ctx, key)
		return nil, err
	}
	e.unmarked.Delete(key)
	if saved == prev {
		e.metrics.recomputes.WithLabelValues(string(category), resultUnchanged).Inc()
		return saved, nil
	}

	e.metrics.recomputes.WithLabelValues(string(category), resultUpdated).Inc()
	e.announce(ctx, prev, saved, category)
	return saved, nil
}

// markStale flags the snapshot after a failed recomputation so the next one re-runs
// every provider. It runs on a fresh deadline since ctx may be the one that expired;
// when even that fails the flag is kept in process.
func (e *Engine) markStale(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.store.MarkSnapshotStale(ctx, key); err != nil {
		e.unmarked.Store(key, struct{}{})
		e.logger.Warn("failed to flag stale snapshot", "user_id", key, "error", err)
	}
}

// needsFullRun reports whether prev cannot be trusted for the categories a change
// does not touch.
func (e *Engine) needsFullRun(key string, prev *store.Snapshot) bool {
	if prev == nil || prev.Stale {
		return true
	}
	_, ok := e.unmarked.Load(key)
	return ok
}

// categoryScores re-runs only the providers the change can affect. Without a trusted
// previous snapshot every provider runs.
func (e *Engine) categoryScores(ctx context.Context, tx store.Facts, key string, category store.Category, prev *store.Snapshot) (store.CategoryScores, error) {
	var run []store.Category
	var scores store.CategoryScores
	switch {
	case category == store.CategoryAll, e.needsFullRun(key, prev):
		run = store.Categories
	case category == store.CategoryWeights:
		return prev.Categories, nil
	default:
		scores = prev.Categories
		run = []store.Category{category}
	}

	for _, c := range run {
		facts, err := loadFacts(ctx, tx, key, c)
		if err != nil {
			return store.CategoryScores{}, err
		}
		scores.Set(c, scoring.CategoryScore(c, facts))
	}
	return scores, nil
}

// loadFacts reads the inputs of one category.
func loadFacts(ctx context.Context, f store.Facts, key string, c store.Category) (scoring.StudentFacts, error) {
	var out scoring.StudentFacts
	var err error
	switch c {
	case store.CategoryAcademic:
		out.Grades, err = f.GetGrades(ctx, key)
	case store.CategoryChallenges:
		out.Submissions, err = f.ListChallengeSubmissions(ctx, key)
		if err == nil {
			out.ActiveChallenges, err = f.ListActiveChallengeIDs(ctx)
		}
	case store.CategoryMastery:
		out.Mastery, err = f.GetMastery(ctx, key)
	case store.CategorySeminars:
		out.Attendance, err = f.ListAttendance(ctx, key)
	case store.CategoryExtracurricular:
		out.Activities, err = f.ListExtracurricular(ctx, key)
	}
	if err != nil {
		return scoring.StudentFacts{}, fmt.Errorf("load %s facts: %w", c, err)
	}
	return out, nil
}

// stale records a failed recomputation: WARN log, metric and bus event.
func (e *Engine) stale(userID string, category store.Category, err error) *StaleSnapshotError {
	se := &StaleSnapshotError{UserID: userID, Category: category, Err: err}
	e.metrics.stale.Inc()
	e.logger.Warn("snapshot left stale", "user_id", userID, "category", category, "error", err)
	if e.hermes != nil {
		if perr := e.hermes.Publish(hermes.SubjectSnapshotStale(userID), hermes.SnapshotStaleEvent{
			UserID:    userID,
			Category:  string(category),
			Error:     err.Error(),
			Timestamp: e.now().UTC(),
		}); perr != nil {
			e.logger.Warn("failed to publish stale snapshot event", "user_id", userID, "error", perr)
		}
	}
	return se
}

// announce pushes a changed snapshot to the ranking cache and the bus. Both are
// best-effort; the store already holds the truth.
func (e *Engine) announce(ctx context.Context, prev, next *store.Snapshot, category store.Category) {
	if e.ranker != nil {
		if err := e.ranker.Update(ctx, next); err != nil {
			e.logger.Warn("failed to update leaderboard", "user_id", next.UserID, "error", err)
		}
	}
	if e.hermes == nil {
		return
	}
	if err := e.hermes.Publish(hermes.SubjectSnapshotUpdated(next.UserID), hermes.SnapshotUpdatedEvent{
		UserID:     next.UserID,
		Score:      next.Score,
		BadgeTier:  next.Badge,
		Category:   string(category),
		ComputedAt: next.ComputedAt,
	}); err != nil {
		e.logger.Warn("failed to publish snapshot update", "user_id", next.UserID, "error", err)
	}
	if prev != nil && prev.Badge != next.Badge {
		if err := e.hermes.Publish(hermes.SubjectTierChanged(next.UserID), hermes.TierChangedEvent{
			UserID:   next.UserID,
			Previous: prev.Badge,
			Current:  next.Badge,
			Score:    next.Score,
		}); err != nil {
			e.logger.Warn("failed to publish tier change", "user_id", next.UserID, "error", err)
		}
	}
}
