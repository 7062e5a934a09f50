package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 100

// RedisCache はRedisを使用したCacheの実装。
// すべての呼び出しにタイムアウトを適用し、停止したRedisで呼び出し元がハングしないようにする。
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCache はRedis URLからRedisCacheを生成する。
// timeoutは1回のコマンドに許容する最大時間。
func NewRedisCache(url string, timeout time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), timeout), nil
}

// NewRedisCacheWithClient は既存のクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(client *redis.Client, timeout time.Duration) *RedisCache {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisCache{client: client, timeout: timeout}
}

// Client は内部のRedisクライアントを返す。Streams等、Cacheの範囲外の操作に使う。
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Ping はRedisへの疎通を確認する。ヘルスチェック用。
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Close は接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", err)
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapErr("set", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrapErr("delete", err)
	}
	return n, nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return n > 0, nil
}

func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ok, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrapErr("expire", err)
	}
	return ok, nil
}

// TTL は残り有効期限を返す。
func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, wrapErr("ttl", err)
	}
	// go-redisは -2（キー無し）と -1（期限無し）をそのままの値で返す。
	switch {
	case ttl == -2:
		return 0, false, nil
	case ttl < 0:
		return 0, true, nil
	}
	return ttl, true, nil
}

func (c *RedisCache) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	values := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		values = append(values, f, v)
	}
	if err := c.client.HSet(ctx, key, values...).Err(); err != nil {
		return wrapErr("hset", err)
	}
	return nil
}

func (c *RedisCache) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	v, err := c.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("hget", err)
	}
	return v, true, nil
}

func (c *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	m, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("hgetall", err)
	}
	return m, nil
}

func (c *RedisCache) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, wrapErr("hdel", err)
	}
	return n, nil
}

func (c *RedisCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, wrapErr("scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (c *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, ErrUnavailable, err)
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
