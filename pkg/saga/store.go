package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSagaNotFound is returned when a saga instance is not found
var ErrSagaNotFound = errors.New("saga instance not found")

// Store persists saga progress
type Store interface {
	// Save inserts or replaces a saga instance
	Save(ctx context.Context, instance *Instance) error
	// Get retrieves a saga instance by ID
	Get(ctx context.Context, id string) (*Instance, error)
}

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
}

// NewMemoryStore creates a new in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string][]byte)}
}

// Save stores a copy of instance
func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize saga instance: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = data
	return nil
}

// Get returns a copy of the stored instance
func (s *MemoryStore) Get(ctx context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	data, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSagaNotFound
	}
	return FromJSON(data)
}

// Count returns the number of stored instances
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// RedisStore keeps saga instances as JSON strings with an expiration
type RedisStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	expiration time.Duration
}

// NewRedisStore creates a new Redis-based saga store
func NewRedisStore(client redis.UniversalClient, keyPrefix string, expiration time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "saga:"
	}
	if expiration == 0 {
		expiration = 24 * time.Hour
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, expiration: expiration}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Save inserts or replaces a saga instance
func (s *RedisStore) Save(ctx context.Context, instance *Instance) error {
	data, err := instance.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize saga instance: %w", err)
	}
	if err := s.client.Set(ctx, s.key(instance.ID), data, s.expiration).Err(); err != nil {
		return fmt.Errorf("failed to save saga instance: %w", err)
	}
	return nil
}

// Get retrieves a saga instance by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*Instance, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saga instance: %w", err)
	}
	return FromJSON(data)
}
