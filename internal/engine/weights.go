package engine

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// WeightReader is satisfied by the store and by an open student transaction.
type WeightReader interface {
	GetWeights(ctx context.Context) (*store.ScoreWeights, error)
}

// WeightConfig is the single read/write path for category weights. Reads always go to
// the store so a committed change is seen by the next aggregation.
type WeightConfig struct {
	store    store.Store
	defaults scoring.WeightSet
}

func NewWeightConfig(s store.Store, defaults scoring.WeightSet) *WeightConfig {
	return &WeightConfig{store: s, defaults: defaults.Sanitized(scoring.DefaultWeights())}
}

func (c *WeightConfig) Defaults() scoring.WeightSet { return c.defaults }

// Get returns the stored weights, or the defaults when none were ever saved.
func (c *WeightConfig) Get(ctx context.Context) (scoring.WeightSet, error) {
	return c.read(ctx, c.store)
}

func (c *WeightConfig) read(ctx context.Context, r WeightReader) (scoring.WeightSet, error) {
	sw, err := r.GetWeights(ctx)
	if err != nil {
		return scoring.WeightSet{}, fmt.Errorf("read weights: %w", err)
	}
	if sw == nil {
		return c.defaults, nil
	}
	return scoring.FromStored(sw), nil
}

// Set overlays patch on the current weights, validates the result and persists it.
// Nothing is written when validation fails.
func (c *WeightConfig) Set(ctx context.Context, patch scoring.WeightPatch, actor string) (scoring.WeightSet, error) {
	if patch.Empty() {
		return scoring.WeightSet{}, store.Invalid("weight update changes nothing")
	}
	current, err := c.Get(ctx)
	if err != nil {
		return scoring.WeightSet{}, err
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return scoring.WeightSet{}, err
	}
	if err := c.store.SaveWeights(ctx, next.ToStored(actor)); err != nil {
		return scoring.WeightSet{}, fmt.Errorf("save weights: %w", err)
	}
	return next, nil
}
