package repository

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const soldOutRankKey = "rank:sold-out"

// RankEntry is one sale on the sold-out leaderboard
type RankEntry struct {
	SaleID string `json:"sale_id"`
	// Seconds from opening to selling out
	Seconds int64 `json:"seconds"`
	Rank    int64 `json:"rank"`
}

// RankRepository keeps the sold-out leaderboard, fastest sale first
type RankRepository interface {
	// Record adds the sale once. Later calls keep the first score.
	Record(ctx context.Context, saleID string, seconds int64) (bool, error)

	// Top returns the n fastest sales
	Top(ctx context.Context, n int64) ([]RankEntry, error)
}

var _ RankRepository = (*RedisRankRepository)(nil)

// RedisRankRepository implements RankRepository with a sorted set
type RedisRankRepository struct {
	client *pkgredis.Client
}

// NewRedisRankRepository creates a new RedisRankRepository
func NewRedisRankRepository(client *pkgredis.Client) *RedisRankRepository {
	return &RedisRankRepository{client: client}
}

func (r *RedisRankRepository) Record(ctx context.Context, saleID string, seconds int64) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.rank.record")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", saleID),
		attribute.Int64("seconds", seconds),
	)

	added, err := r.client.Client().ZAddNX(ctx, soldOutRankKey, redis.Z{Score: float64(seconds), Member: saleID}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("record sold-out rank", err)
	}

	span.SetStatus(codes.Ok, "")
	return added == 1, nil
}

func (r *RedisRankRepository) Top(ctx context.Context, n int64) ([]RankEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.rank.top")
	defer span.End()

	if n <= 0 {
		n = 10
	}

	members, err := r.client.ZRangeWithScores(ctx, soldOutRankKey, 0, n-1).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("read sold-out ranking", err)
	}

	entries := make([]RankEntry, 0, len(members))
	for i, m := range members {
		saleID, _ := m.Member.(string)
		entries = append(entries, RankEntry{
			SaleID:  saleID,
			Seconds: int64(m.Score),
			Rank:    int64(i) + 1,
		})
	}

	span.SetStatus(codes.Ok, "")
	return entries, nil
}
