package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ratelimitKey 根据用户ID生成限流窗口的Redis键
func ratelimitKey(userID string) string {
	return fmt.Sprintf("ratelimit:start:%s", userID)
}

// RedisRateLimiter 是基于 Redis 有序集合的滑动窗口限流器，
// 分数是请求时间戳，每次先清掉窗口外的成员再计数。
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter 创建限流器，limit 是窗口内允许的请求数
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

// Allow 报告该用户当前是否允许再发起一次请求，允许时记入本次请求
func (r *RedisRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("Redis client not initialized")
	}

	key := ratelimitKey(userID)
	now := time.Now()
	cutoff := now.Add(-r.window).UnixNano()

	// 清理窗口外的请求并统计剩余数量
	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to trim rate limit window for %s: %w", userID, err)
	}

	if countCmd.Val() >= int64(r.limit) {
		return false, nil
	}

	// 记入本次请求并刷新窗口过期时间
	pipe = r.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.New().String(),
	})
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record rate limit entry for %s: %w", userID, err)
	}

	return true, nil
}
