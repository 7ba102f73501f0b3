package xstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Store             = (*Redis)(nil)
	_ CompareAndDeleter = (*Redis)(nil)
	_ CompareAndSwapper = (*Redis)(nil)
)

// =============================================================================
// Lua 脚本嵌入
// =============================================================================

var (
	//go:embed lua/incr.lua
	incrLuaSource string

	//go:embed lua/cad.lua
	cadLuaSource string

	//go:embed lua/cas.lua
	casLuaSource string
)

// scripts 持有所有 Redis 脚本实例
type scripts struct {
	incr *redis.Script
	cad  *redis.Script
	cas  *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

// getScripts 获取脚本实例（线程安全的单例）
func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			incr: redis.NewScript(incrLuaSource),
			cad:  redis.NewScript(cadLuaSource),
			cas:  redis.NewScript(casLuaSource),
		}
	})
	return globalScripts
}

// =============================================================================
// Redis 存储
// =============================================================================

// Redis 基于 go-redis 的原子存储。
//
// 支持单机、哨兵与集群（redis.UniversalClient）。每个操作只涉及一个键，
// 因此在集群模式下无需 hash tag。
type Redis struct {
	client redis.UniversalClient
}

// NewRedis 创建 Redis 存储
func NewRedis(client redis.UniversalClient) (*Redis, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Redis{client: client}, nil
}

// Client 返回底层客户端
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

func (r *Redis) InsertIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	ok, err := r.client.SetNX(ctx, key, value, clampTTL(ttl)).Result()
	if err != nil {
		return false, wrapRedisError("setnx", key, err)
	}
	return ok, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapRedisError("get", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Set(ctx, key, value, clampTTL(ttl)).Err(); err != nil {
		return wrapRedisError("set", key, err)
	}
	return nil
}

func (r *Redis) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	n, err := getScripts().incr.Run(ctx, r.client, []string{key}, delta, clampTTL(ttl).Milliseconds()).Int64()
	if err != nil {
		if isRedisNotInteger(err) {
			return 0, ErrNotInteger
		}
		return 0, wrapRedisError("incrby", key, err)
	}
	return n, nil
}

func (r *Redis) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return r.Increment(ctx, key, -delta, ttl)
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, wrapRedisError("del", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapRedisError("exists", key, err)
	}
	return n > 0, nil
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := getScripts().cad.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, wrapRedisError("compare-and-delete", key, err)
	}
	return n > 0, nil
}

func (r *Redis) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := getScripts().cas.Run(ctx, r.client, []string{key}, old, new, clampTTL(ttl).Milliseconds()).Int64()
	if err != nil {
		return false, wrapRedisError("compare-and-swap", key, err)
	}
	return n == 1, nil
}

// clampTTL go-redis 中负数 TTL 表示 KEEPTTL，这里统一归一为 0（永不过期）。
func clampTTL(ttl time.Duration) time.Duration {
	return max(ttl, 0)
}

func wrapRedisError(op, key string, err error) error {
	return fmt.Errorf("xstore: redis %s %q: %w", op, key, err)
}
