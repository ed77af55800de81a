package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/storymatch/internal/config"
)

// ErrLockHeld is returned by AcquireLock when another owner holds the key.
var ErrLockHeld = errors.New("cache: lock held by another owner")

const (
	rematchQueueKey   = "rematch:queue"
	rematchPendingKey = "rematch:pending"
)

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// Lock is an owned key. Token identifies this owner so a late release
// after TTL expiry cannot delete a lock taken over by someone else.
type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

// KeyForIngestLock generates the Redis key guarding a user's story ingestion.
func (c *RedisCache) KeyForIngestLock(userID uint64) string {
	return fmt.Sprintf("lock:ingest:%d", userID)
}

// KeyForMatchLock generates the Redis key guarding a user's matching run.
func (c *RedisCache) KeyForMatchLock(userID uint64) string {
	return fmt.Sprintf("lock:match:%d", userID)
}

// AcquireLock takes key with SET NX. It never waits: a held key returns
// ErrLockHeld immediately.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := c.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{Key: key, Token: token, TTL: ttl}, nil
}

// ReleaseLock deletes the lock if still owned. Releasing an expired or
// foreign lock is a no-op.
func (c *RedisCache) ReleaseLock(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	err := releaseScript.Run(ctx, c.Client, []string{l.Key}, l.Token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// EnqueueRematch schedules a matching run for userID. A user already waiting
// in the queue is not added twice. Reports whether the user was added.
func (c *RedisCache) EnqueueRematch(ctx context.Context, userID uint64) (bool, error) {
	member := strconv.FormatUint(userID, 10)
	added, err := c.Client.SAdd(ctx, rematchPendingKey, member).Result()
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}
	if err := c.Client.LPush(ctx, rematchQueueKey, member).Err(); err != nil {
		// keep the set consistent with the list so the user can be re-queued
		_ = c.Client.SRem(ctx, rematchPendingKey, member).Err()
		return false, err
	}
	return true, nil
}

// PopRematch blocks up to timeout for the next queued user.
// ok is false when the timeout elapsed with an empty queue.
func (c *RedisCache) PopRematch(ctx context.Context, timeout time.Duration) (userID uint64, ok bool, err error) {
	res, err := c.Client.BRPop(ctx, timeout, rematchQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	// res is [key, value]
	member := res[1]
	if err := c.Client.SRem(ctx, rematchPendingKey, member).Err(); err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseUint(member, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cache: bad rematch entry %q: %w", member, err)
	}
	return id, true, nil
}

// RematchBacklog returns the number of users waiting for a run.
func (c *RedisCache) RematchBacklog(ctx context.Context) (int64, error) {
	return c.Client.LLen(ctx, rematchQueueKey).Result()
}

// ClearRematchQueue drops every queued run.
func (c *RedisCache) ClearRematchQueue(ctx context.Context) error {
	return c.Client.Del(ctx, rematchQueueKey, rematchPendingKey).Err()
}
