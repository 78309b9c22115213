package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/ticket-rush/pkg/response"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the gin context key for the idempotency key
	ContextKeyIdempotencyKey = "idempotency_key"
	// IdempotencyKeyPrefix prefixes idempotency records in Redis
	IdempotencyKeyPrefix = "idempotency:"
)

// IdempotencyStatus represents the status of an idempotency record
type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the state of an idempotent request
type IdempotencyRecord struct {
	Key          string            `json:"key"`
	Status       IdempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// RedisClient is the subset of go-redis used for idempotency records
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig holds configuration for idempotency middleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL for completed records
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight record blocks retries
	ProcessingTTL time.Duration
	// Required rejects requests without a key. When false they pass through.
	Required bool
}

// DefaultIdempotencyConfig returns default configuration
func DefaultIdempotencyConfig(client RedisClient) *IdempotencyConfig {
	return &IdempotencyConfig{
		Redis:         client,
		TTL:           10 * time.Minute,
		ProcessingTTL: 30 * time.Second,
	}
}

// Idempotency replays the stored response when a client retries a request
// with the same X-Idempotency-Key. Only 2xx responses are cached so a
// request that failed can be retried. Redis errors fail open.
func Idempotency(config *IdempotencyConfig) gin.HandlerFunc {
	if config.TTL == 0 {
		config.TTL = 10 * time.Minute
	}
	if config.ProcessingTTL == 0 {
		config.ProcessingTTL = 30 * time.Second
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			if config.Required {
				c.AbortWithStatusJSON(http.StatusBadRequest, response.ErrorBody("MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required"))
				return
			}
			c.Next()
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)

		ctx := c.Request.Context()
		redisKey := IdempotencyKeyPrefix + key

		existing, err := getRecord(ctx, config.Redis, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if existing != nil {
			replay(c, existing, hash)
			return
		}

		record := &IdempotencyRecord{
			Key:         key,
			Status:      StatusProcessing,
			RequestHash: hash,
			CreatedAt:   time.Now(),
		}
		if !trySetRecord(ctx, config.Redis, redisKey, record, config.ProcessingTTL) {
			if existing, _ = getRecord(ctx, config.Redis, redisKey); existing != nil {
				replay(c, existing, hash)
				return
			}
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil), status: http.StatusOK}
		c.Writer = rw
		c.Next()

		if rw.status >= 200 && rw.status < 300 {
			now := time.Now()
			record.Status = StatusCompleted
			record.ResponseCode = rw.status
			record.ResponseBody = rw.body.String()
			record.CompletedAt = &now
			_ = saveRecord(ctx, config.Redis, redisKey, record, config.TTL)
			return
		}
		// release the key so the client can retry
		config.Redis.Del(ctx, redisKey)
	}
}

func replay(c *gin.Context, record *IdempotencyRecord, hash string) {
	if record.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.ErrorBody("IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request"))
		return
	}
	if record.Status == StatusProcessing {
		c.AbortWithStatusJSON(http.StatusConflict, response.ErrorBody("REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed"))
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(record.ResponseCode, "application/json; charset=utf-8", []byte(record.ResponseBody))
	c.Abort()
}

// GetIdempotencyKey extracts the idempotency key from gin context
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key, exists := c.Get(ContextKeyIdempotencyKey)
	if !exists {
		return "", false
	}
	k, ok := key.(string)
	return k, ok
}

type capturingWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, client RedisClient, key string) (*IdempotencyRecord, error) {
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func trySetRecord(ctx context.Context, client RedisClient, key string, record *IdempotencyRecord, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	ok, err := client.SetNX(ctx, key, string(data), ttl).Result()
	return err == nil && ok
}

func saveRecord(ctx context.Context, client RedisClient, key string, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, string(data), ttl).Err()
}
