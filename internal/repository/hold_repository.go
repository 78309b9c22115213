package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const (
	seatHoldPrefix = "seat:hold:"

	scriptReleaseHold = "release_hold"
)

// releaseHoldScript deletes the hold only while it still belongs to the
// reservation being released
const releaseHoldScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// HoldRepository tracks which user holds a claimed seat while payment is pending
type HoldRepository interface {
	// Hold marks seatID as held by userID for ttl
	Hold(ctx context.Context, seatID, userID, reservationID string, ttl time.Duration) error

	// IsHeld reports whether userID still holds seatID for reservationID
	IsHeld(ctx context.Context, seatID, userID, reservationID string) (bool, error)

	// Release drops the hold if it still belongs to reservationID. A missing
	// hold, or one taken over by another reservation, is left alone.
	Release(ctx context.Context, seatID, userID, reservationID string) error
}

var _ HoldRepository = (*RedisHoldRepository)(nil)

// RedisHoldRepository implements HoldRepository with expiring keys
type RedisHoldRepository struct {
	client *pkgredis.Client
}

// NewRedisHoldRepository creates a new RedisHoldRepository
func NewRedisHoldRepository(client *pkgredis.Client) *RedisHoldRepository {
	return &RedisHoldRepository{client: client}
}

func seatHoldKey(seatID, userID string) string {
	return seatHoldPrefix + seatID + ":" + userID
}

func (r *RedisHoldRepository) Hold(ctx context.Context, seatID, userID, reservationID string, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.hold.set")
	defer span.End()

	span.SetAttributes(
		attribute.String("seat_id", seatID),
		attribute.String("user_id", userID),
		attribute.String("reservation_id", reservationID),
	)

	if err := r.client.Set(ctx, seatHoldKey(seatID, userID), reservationID, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return infraError("set seat hold", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *RedisHoldRepository) IsHeld(ctx context.Context, seatID, userID, reservationID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.hold.get")
	defer span.End()

	span.SetAttributes(
		attribute.String("seat_id", seatID),
		attribute.String("user_id", userID),
		attribute.String("reservation_id", reservationID),
	)

	owner, err := r.client.Get(ctx, seatHoldKey(seatID, userID)).Result()
	if pkgredis.IsNil(err) {
		span.SetStatus(codes.Ok, "")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("check seat hold", err)
	}

	span.SetStatus(codes.Ok, "")
	return owner == reservationID, nil
}

func (r *RedisHoldRepository) Release(ctx context.Context, seatID, userID, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.hold.release")
	defer span.End()

	span.SetAttributes(
		attribute.String("seat_id", seatID),
		attribute.String("user_id", userID),
		attribute.String("reservation_id", reservationID),
	)

	keys := []string{seatHoldKey(seatID, userID)}
	removed, err := r.client.EvalWithFallback(ctx, scriptReleaseHold, releaseHoldScript, keys, reservationID).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return infraError("release seat hold", err)
	}

	span.SetAttributes(attribute.Bool("released", removed == 1))
	span.SetStatus(codes.Ok, "")
	return nil
}
