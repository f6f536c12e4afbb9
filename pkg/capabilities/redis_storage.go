package capabilities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// RedisStorage keeps capabilities in Redis. Entries expire with the
// capability's validity window.
type RedisStorage struct {
	client *redis.Client
	prefix string
	codec  codec
	clock  func() time.Time
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithRedisPrefix sets the key prefix. Default is "scorevault".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) { s.prefix = prefix }
}

// WithRedisSealer seals holder private keys before they leave the process.
func WithRedisSealer(m kms.Manager) RedisOption {
	return func(s *RedisStorage) { s.codec.sealer = m }
}

// WithRedisClock overrides the clock used to compute entry TTLs.
func WithRedisClock(clock func() time.Time) RedisOption {
	return func(s *RedisStorage) { s.clock = clock }
}

func NewRedisStorage(client *redis.Client, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{
		client: client,
		prefix: "scorevault",
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStorage) redisKey(key contracts.CapabilityKey) string {
	return fmt.Sprintf("%s:capability:%s", s.prefix, key.String())
}

func (s *RedisStorage) Get(ctx context.Context, key contracts.CapabilityKey) (*contracts.Capability, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return s.codec.decode(key, data)
}

// Put stores c until it expires. Already expired capabilities are not
// written.
func (s *RedisStorage) Put(ctx context.Context, key contracts.CapabilityKey, c *contracts.Capability) error {
	ttl := c.ValidUntil().Sub(s.clock())
	if ttl <= 0 {
		return nil
	}
	data, err := s.codec.encode(key, c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
