package repository

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

//go:embed scripts/issue_token.lua
var issueTokenScript string

//go:embed scripts/promote_tokens.lua
var promoteTokensScript string

//go:embed scripts/revoke_token.lua
var revokeTokenScript string

// Script names for caching
const (
	scriptIssueToken    = "issue_token"
	scriptPromoteTokens = "promote_tokens"
	scriptRevokeToken   = "revoke_token"
)

var _ QueueRepository = (*RedisQueueRepository)(nil)

// RedisQueueRepository implements QueueRepository using Redis sorted sets
type RedisQueueRepository struct {
	client *pkgredis.Client
}

// NewRedisQueueRepository creates a new RedisQueueRepository
func NewRedisQueueRepository(client *pkgredis.Client) *RedisQueueRepository {
	return &RedisQueueRepository{client: client}
}

// LoadScripts loads all queue Lua scripts into Redis
func (r *RedisQueueRepository) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptIssueToken:    issueTokenScript,
		scriptPromoteTokens: promoteTokensScript,
		scriptRevokeToken:   revokeTokenScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return infraError("load script "+name, err)
		}
	}
	return nil
}

// IssueToken runs the issue_token script
func (r *RedisQueueRepository) IssueToken(ctx context.Context, params IssueTokenParams) (*IssueTokenResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.issue_token")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", params.SaleID),
		attribute.String("user_id", params.UserID),
	)

	nowMs := params.Now.UnixMilli()
	activeExpiresAt := strconv.FormatInt(nowMs+params.ActiveTTL.Milliseconds(), 10)
	waitingExpiresAt := strconv.FormatInt(nowMs+params.WaitingTTL.Milliseconds(), 10)
	keys := []string{
		activeKey(params.SaleID),
		waitingKey(params.SaleID),
		tokenIDKey(params.UserID, params.SaleID),
		tokenInfoKey(params.TokenID),
		sequenceKeyPrefix + params.SaleID,
	}
	args := []interface{}{
		params.TokenID,                   // ARGV[1]: token_id
		params.UserID,                    // ARGV[2]: user_id
		params.SaleID,                    // ARGV[3]: sale_id
		strconv.FormatInt(nowMs, 10),     // ARGV[4]: now_ms
		params.MaxActive,                 // ARGV[5]: max_active
		activeExpiresAt,                  // ARGV[6]: active_expires_at
		waitingExpiresAt,                 // ARGV[7]: waiting_expires_at
		params.ActiveTTL.Milliseconds(),  // ARGV[8]: active_ttl_ms
		params.WaitingTTL.Milliseconds(), // ARGV[9]: waiting_ttl_ms
		tokenInfoPrefix,                  // ARGV[10]: info key prefix
	}

	result := r.client.EvalWithFallback(ctx, scriptIssueToken, issueTokenScript, keys, args...)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return nil, infraError("execute issue_token script", result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}
	if len(values) < 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	created, _ := toInt64(values[0])
	tokenID, _ := values[1].(string)
	if created == 0 {
		span.SetAttributes(attribute.Bool("existing", true))
		span.SetStatus(codes.Ok, "")
		return &IssueTokenResult{Created: false, TokenID: tokenID}, nil
	}

	if len(values) < 5 {
		span.SetStatus(codes.Error, "unexpected result length")
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}
	status, _ := values[2].(string)
	position, _ := toInt64(values[3])
	expiresAt, _ := toInt64(values[4])

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Int64("position", position),
	)
	span.SetStatus(codes.Ok, "")
	return &IssueTokenResult{
		Created:   true,
		TokenID:   tokenID,
		Status:    domain.TokenStatus(status),
		Position:  position,
		ExpiresAt: time.UnixMilli(expiresAt),
	}, nil
}

// GetToken reads the token info hash
func (r *RedisQueueRepository) GetToken(ctx context.Context, tokenID string) (*domain.QueueToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.get_token")
	defer span.End()

	span.SetAttributes(attribute.String("token_id", tokenID))

	fields, err := r.client.HGetAll(ctx, tokenInfoKey(tokenID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get token info", err)
	}
	if len(fields) == 0 {
		span.SetStatus(codes.Ok, "not found")
		return nil, domain.ErrTokenNotFound
	}

	token, err := parseToken(fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return token, nil
}

// WaitingRank returns the ZRANK of the token in the waiting set
func (r *RedisQueueRepository) WaitingRank(ctx context.Context, saleID, tokenID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.waiting_rank")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", saleID),
		attribute.String("token_id", tokenID),
	)

	rank, err := r.client.ZRank(ctx, waitingKey(saleID), tokenID).Result()
	if err != nil {
		if pkgredis.IsNil(err) {
			span.SetStatus(codes.Ok, "not in queue")
			return 0, domain.ErrTokenNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, infraError("get waiting rank", err)
	}

	span.SetAttributes(attribute.Int64("rank", rank))
	span.SetStatus(codes.Ok, "")
	return rank, nil
}

// Promote runs the promote_tokens script for one sale
func (r *RedisQueueRepository) Promote(ctx context.Context, params PromoteParams) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.promote")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", params.SaleID))

	nowMs := params.Now.UnixMilli()
	expiresAt := strconv.FormatInt(nowMs+params.ActiveTTL.Milliseconds(), 10)
	keys := []string{activeKey(params.SaleID), waitingKey(params.SaleID)}
	args := []interface{}{
		strconv.FormatInt(nowMs, 10),    // ARGV[1]: now_ms
		params.MaxActive,                // ARGV[2]: max_active
		expiresAt,                       // ARGV[3]: expires_at
		params.ActiveTTL.Milliseconds(), // ARGV[4]: ttl_ms
		tokenInfoPrefix,                 // ARGV[5]: info key prefix
		tokenIDPrefix,                   // ARGV[6]: reverse index prefix
		params.SaleID,                   // ARGV[7]: sale_id
	}

	result := r.client.EvalWithFallback(ctx, scriptPromoteTokens, promoteTokensScript, keys, args...)
	if result.Err() != nil && !pkgredis.IsNil(result.Err()) {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return nil, infraError("execute promote_tokens script", result.Err())
	}

	promoted, err := result.StringSlice()
	if err != nil && !pkgredis.IsNil(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}

	span.SetAttributes(attribute.Int("promoted", len(promoted)))
	span.SetStatus(codes.Ok, "")
	return promoted, nil
}

// ExpireStale removes ACTIVE members past their expiry and WAITING members
// issued more than waitingTTL ago
func (r *RedisQueueRepository) ExpireStale(ctx context.Context, saleID string, now time.Time, waitingTTL time.Duration) (*domain.CleanupResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.expire_stale")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	pipe := r.client.TxPipeline()
	activeCmd := pipe.ZRemRangeByScore(ctx, activeKey(saleID), "-inf", strconv.FormatInt(now.UnixMilli(), 10))
	waitingMax := waitingScore(now.Add(-waitingTTL)) + 999
	waitingCmd := pipe.ZRemRangeByScore(ctx, waitingKey(saleID), "-inf", strconv.FormatInt(waitingMax, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("expire stale tokens", err)
	}

	result := &domain.CleanupResult{
		SaleID:         saleID,
		ActiveRemoved:  activeCmd.Val(),
		WaitingRemoved: waitingCmd.Val(),
	}
	span.SetAttributes(attribute.Int64("removed", result.Total()))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Revoke runs the revoke_token script
func (r *RedisQueueRepository) Revoke(ctx context.Context, tokenID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.queue.revoke")
	defer span.End()

	span.SetAttributes(attribute.String("token_id", tokenID))

	keys := []string{tokenInfoKey(tokenID)}
	args := []interface{}{tokenID, activeKeyPrefix, waitingKeyPrefix, tokenIDPrefix}

	removed, err := r.client.EvalWithFallback(ctx, scriptRevokeToken, revokeTokenScript, keys, args...).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("execute revoke_token script", err)
	}

	span.SetAttributes(attribute.Bool("removed", removed == 1))
	span.SetStatus(codes.Ok, "")
	return removed == 1, nil
}

// ActiveCount counts ACTIVE members whose expiry is after now
func (r *RedisQueueRepository) ActiveCount(ctx context.Context, saleID string, now time.Time) (int64, error) {
	count, err := r.client.ZCount(ctx, activeKey(saleID), "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, infraError("count active tokens", err)
	}
	return count, nil
}

// WaitingCount returns the size of the waiting set
func (r *RedisQueueRepository) WaitingCount(ctx context.Context, saleID string) (int64, error) {
	count, err := r.client.ZCard(ctx, waitingKey(saleID)).Result()
	if err != nil {
		return 0, infraError("count waiting tokens", err)
	}
	return count, nil
}

func parseToken(fields map[string]string) (*domain.QueueToken, error) {
	position, _ := strconv.ParseInt(fields["position"], 10, 64)
	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issued_at %q: %w", fields["issued_at"], err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at %q: %w", fields["expires_at"], err)
	}

	token := &domain.QueueToken{
		TokenID:   fields["token_id"],
		UserID:    fields["user_id"],
		SaleID:    fields["sale_id"],
		Status:    domain.TokenStatus(fields["status"]),
		Position:  position,
		IssuedAt:  time.UnixMilli(issuedAt),
		ExpiresAt: time.UnixMilli(expiresAt),
	}
	if raw, ok := fields["entered_at"]; ok && raw != "" {
		if entered, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.UnixMilli(entered)
			token.EnteredAt = &t
		}
	}
	return token, nil
}

// toInt64 converts a Lua reply value to int64
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
