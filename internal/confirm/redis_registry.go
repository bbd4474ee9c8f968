package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cway-mcp:confirm:nonce:"

// RedisOptions configures the Redis connection used by RedisRegistry.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisRegistry stores consumed nonces in Redis so single use holds across
// restarts and replicas that share the codec secret. Entries expire through
// Redis TTLs set to the retention window.
type RedisRegistry struct {
	client    redis.Cmdable
	retention time.Duration
	clock     Clock
}

// NewRedisRegistry creates a registry on client. retention must be at least
// the confirmation token TTL.
func NewRedisRegistry(client redis.Cmdable, retention time.Duration, clock Clock) *RedisRegistry {
	if clock == nil {
		clock = realClock{}
	}
	return &RedisRegistry{client: client, retention: retention, clock: clock}
}

func (r *RedisRegistry) IsConsumed(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Exists(ctx, redisKeyPrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check nonce: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) MarkConsumed(ctx context.Context, nonce string, issuedAt time.Time) error {
	ttl := issuedAt.Add(r.retention).Sub(r.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+nonce, issuedAt.Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to record nonce: %w", err)
	}
	if !ok {
		return ErrTokenAlreadyUsed
	}
	return nil
}

// EvictExpired is a no-op; Redis expires entries itself.
func (r *RedisRegistry) EvictExpired(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}

// Len is not tracked for Redis and always returns -1.
func (r *RedisRegistry) Len(context.Context) int {
	return -1
}
