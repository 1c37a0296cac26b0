package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // 零值表示永不过期
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryKV 是进程内的 KV 实现，带惰性 TTL 清理。
// 用于单机部署和测试；生产部署使用 RedisKV。
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory 创建内存 KV 存储
func NewMemory() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

// Get 返回键对应的值
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		if ok {
			m.mu.Lock()
			delete(m.entries, key)
			m.mu.Unlock()
		}
		return nil, ErrKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set 写入键值
func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete 删除键
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// ScanPrefix 返回所有以 prefix 开头的键值对
func (m *MemoryKV) ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	now := time.Now()
	result := make(map[string][]byte)

	m.mu.RLock()
	for key, entry := range m.entries {
		if !strings.HasPrefix(key, prefix) || entry.expired(now) {
			continue
		}
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		result[key] = value
	}
	m.mu.RUnlock()

	return result, nil
}
