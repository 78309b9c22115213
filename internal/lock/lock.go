package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// Key templates for lock names
const (
	keyPrefix = "lock:"
)

// SeatKey serializes claims on one seat
func SeatKey(seatID string) string { return "reserve:seat:" + seatID }

// UserKey serializes settlements of one user
func UserKey(userID string) string { return "user:" + userID }

// ReservationKey serializes settlement and expiry of one reservation
func ReservationKey(reservationID string) string { return "reservation:" + reservationID }

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Config holds lock timeouts
type Config struct {
	// WaitTimeout bounds how long Acquire polls before giving up
	WaitTimeout time.Duration
	// LeaseTimeout auto-releases the lock if the holder dies
	LeaseTimeout time.Duration
	// MaxPollInterval caps the randomized poll sleep
	MaxPollInterval time.Duration
}

// DefaultConfig returns default lock configuration
func DefaultConfig() *Config {
	return &Config{
		WaitTimeout:     3 * time.Second,
		LeaseTimeout:    10 * time.Second,
		MaxPollInterval: 50 * time.Millisecond,
	}
}

// Locker acquires lease-based mutexes keyed by business identifier
type Locker interface {
	Acquire(ctx context.Context, key string) (*Lease, error)
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Key returns the full Redis key of the lease
func (l *Lease) Key() string { return l.key }

// Release deletes the lock only if this lease still owns it
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// RedisLocker implements Locker with SET NX PX
type RedisLocker struct {
	client redis.UniversalClient
	config *Config
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a new Redis-backed locker
func NewRedisLocker(client redis.UniversalClient, cfg *Config) *RedisLocker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 3 * time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Second
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, config: cfg}
}

// Acquire polls until the lock is free or WaitTimeout elapses, in which case
// it returns domain.ErrLockConflict. Redis errors are wrapped with
// domain.ErrInfrastructure.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (*Lease, error) {
	ctx, span := telemetry.StartSpan(ctx, "lock.acquire")
	defer span.End()
	span.SetAttributes(attribute.String("lock_key", key))

	fullKey := keyPrefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(l.config.WaitTimeout)

	for attempt := 1; ; attempt++ {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.config.LeaseTimeout).Result()
		if err != nil {
			err = fmt.Errorf("%w: lock %s: %v", domain.ErrInfrastructure, key, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if ok {
			span.SetAttributes(attribute.Int("attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return &Lease{client: l.client, key: fullKey, token: token}, nil
		}

		if !time.Now().Before(deadline) {
			span.SetStatus(codes.Error, "lock conflict")
			return nil, fmt.Errorf("%w: %s", domain.ErrLockConflict, key)
		}

		sleep := time.Duration(rand.Int63n(int64(l.config.MaxPollInterval))) + time.Millisecond
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock runs fn while holding key. The lease is released even if fn fails.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// release with a fresh context so a cancelled request still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lease.Release(releaseCtx)
	}()
	return fn(ctx)
}

// IsConflict reports whether err means the lock was busy
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrLockConflict)
}
