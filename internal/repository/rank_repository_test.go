package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRankRepository(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRedisRankRepository(client)
	ctx := context.Background()

	added, err := repo.Record(ctx, "slow", 600)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.Record(ctx, "fast", 42)
	require.NoError(t, err)
	assert.True(t, added)

	// the first score wins
	added, err = repo.Record(ctx, "fast", 1)
	require.NoError(t, err)
	assert.False(t, added)

	top, err := repo.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, RankEntry{SaleID: "fast", Seconds: 42, Rank: 1}, top[0])
	assert.Equal(t, RankEntry{SaleID: "slow", Seconds: 600, Rank: 2}, top[1])
}
