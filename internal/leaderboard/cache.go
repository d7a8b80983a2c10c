// Package leaderboard keeps a Redis sorted set of snapshot scores so rank queries do
// not scan the profile table. Postgres stays the source of truth; the cache can be
// rebuilt from it at any time.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// ErrNotRanked means the student has no cached score.
var ErrNotRanked = errors.New("leaderboard: student not ranked")

const (
	keyScores = "scores"
	keyTiers  = "tiers"
)

type Cache struct {
	client redis.UniversalClient
	prefix string
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewCache namespaces its keys under prefix, e.g. "badger:leaderboard:".
func NewCache(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) scoresKey() string { return c.prefix + keyScores }
func (c *Cache) tiersKey() string  { return c.prefix + keyTiers }

// Update writes one snapshot's score and tier in a single pipeline.
func (c *Cache) Update(ctx context.Context, snap *store.Snapshot) error {
	if snap == nil || snap.UserID == "" {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, c.scoresKey(), redis.Z{Score: snap.Score, Member: snap.UserID})
	pipe.HSet(ctx, c.tiersKey(), snap.UserID, snap.Badge)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}
	return nil
}

// Rebuild replaces the cached ranking with entries.
func (c *Cache) Rebuild(ctx context.Context, entries []store.RankedSnapshot) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.scoresKey(), c.tiersKey())
	for _, e := range entries {
		pipe.ZAdd(ctx, c.scoresKey(), redis.Z{Score: e.Score, Member: e.UserID})
		pipe.HSet(ctx, c.tiersKey(), e.UserID, e.Badge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	return nil
}

// Rank returns the competition rank of userID: one more than the number of students
// with a strictly higher score.
func (c *Cache) Rank(ctx context.Context, userID string) (*store.RankedSnapshot, error) {
	score, err := c.client.ZScore(ctx, c.scoresKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotRanked
	}
	if err != nil {
		return nil, err
	}

	above, err := c.client.ZCount(ctx, c.scoresKey(), "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return nil, err
	}
	tier, err := c.client.HGet(ctx, c.tiersKey(), userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return &store.RankedSnapshot{Rank: above + 1, UserID: userID, Score: score, Badge: tier}, nil
}

// Top returns the highest limit scores, ties sharing a rank.
func (c *Cache) Top(ctx context.Context, limit int) ([]store.RankedSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	zs, err := c.client.ZRevRangeWithScores(ctx, c.scoresKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i] = fmt.Sprint(z.Member)
	}
	tiers, err := c.client.HMGet(ctx, c.tiersKey(), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.RankedSnapshot, len(zs))
	for i, z := range zs {
		out[i] = store.RankedSnapshot{UserID: ids[i], Score: z.Score}
		if s, ok := tiers[i].(string); ok {
			out[i].Badge = s
		}
		if i > 0 && z.Score == zs[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = int64(i + 1)
		}
	}
	return out, nil
}
