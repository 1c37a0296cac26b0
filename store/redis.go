package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKV 是基于 Redis 的 KV 实现，生产部署的默认后端。
type RedisKV struct {
	client *redis.Client
}

// NewRedis 用已建立的 Redis 连接创建 KV 存储
func NewRedis(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Get 返回键对应的值
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

// Set 写入键值
func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	if ttl <= 0 {
		ttl = 0 // go-redis 里 0 表示不过期
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete 删除键
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// ScanPrefix 返回所有以 prefix 开头的键值对
func (r *RedisKV) ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	result := make(map[string][]byte)
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // 扫描后刚好过期
			}
			return nil, fmt.Errorf("failed to get key %s during scan: %w", key, err)
		}
		result[key] = value
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}

	return result, nil
}
