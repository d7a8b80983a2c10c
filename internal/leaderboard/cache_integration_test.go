//go:build integration

package leaderboard

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	require.NoError(t, err)

	c := NewCache(client, fmt.Sprintf("badger:test:%d:", time.Now().UnixNano()))
	t.Cleanup(func() {
		_ = client.Del(ctx, c.scoresKey(), c.tiersKey()).Err()
		_ = client.Close()
	})
	return c
}

func TestCacheRanking(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	for _, s := range []*store.Snapshot{
		{UserID: "a", Score: 72.5, Badge: "bronze"},
		{UserID: "b", Score: 96, Badge: "platinum"},
		{UserID: "c", Score: 72.5, Badge: "bronze"},
	} {
		require.NoError(t, c.Update(ctx, s))
	}

	top, err := c.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "b", top[0].UserID)
	assert.Equal(t, "platinum", top[0].Badge)
	assert.Equal(t, int64(2), top[1].Rank)
	assert.Equal(t, int64(2), top[2].Rank)

	r, err := c.Rank(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Rank)

	_, err = c.Rank(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotRanked)

	require.NoError(t, c.Update(ctx, &store.Snapshot{UserID: "a", Score: 99, Badge: "platinum"}))
	r, err = c.Rank(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Rank)
}

func TestCacheRebuild(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()
	require.NoError(t, c.Update(ctx, &store.Snapshot{UserID: "stale", Score: 10, Badge: "warning"}))

	require.NoError(t, c.Rebuild(ctx, []store.RankedSnapshot{
		{UserID: "x", Score: 80, Badge: "silver"},
	}))
	top, err := c.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "x", top[0].UserID)
}
