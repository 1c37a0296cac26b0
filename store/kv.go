package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound 表示键不存在
var ErrKeyNotFound = errors.New("store: key not found")

// KV 是会话存储与分账账本共用的键值存储抽象。
// 任何满足 get/set/delete/scan-by-prefix 的存储（内存表、Redis、关系表）
// 都可以作为后端，核心逻辑不感知具体实现。
type KV interface {
	// Get 返回键对应的值，键不存在时返回 ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 写入键值，ttl <= 0 表示永不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除键，键不存在不算错误
	Delete(ctx context.Context, key string) error
	// ScanPrefix 返回所有以 prefix 开头的键值对
	ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
}
