package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVSetGetDelete(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), 0))

	value, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryKVMissingKey(t *testing.T) {
	kv := NewMemory()

	_, err := kv.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// 删除不存在的键不算错误
	assert.NoError(t, kv.Delete(context.Background(), "missing"))
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "ephemeral", []byte("x"), 10*time.Millisecond))
	require.NoError(t, kv.Set(ctx, "durable", []byte("y"), 0))

	time.Sleep(20 * time.Millisecond)

	_, err := kv.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = kv.Get(ctx, "durable")
	assert.NoError(t, err)
}

func TestMemoryKVScanPrefix(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "session:1", []byte("a"), 0))
	require.NoError(t, kv.Set(ctx, "session:2", []byte("b"), 0))
	require.NoError(t, kv.Set(ctx, "history:1", []byte("c"), 0))

	result, err := kv.ScanPrefix(ctx, "session:")
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []byte("a"), result["session:1"])
	assert.Equal(t, []byte("b"), result["session:2"])
}

func TestMemoryKVValueIsolation(t *testing.T) {
	kv := NewMemory()
	ctx := context.Background()

	original := []byte("abc")
	require.NoError(t, kv.Set(ctx, "k", original, 0))
	original[0] = 'z'

	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), value)

	// 修改读到的值不影响存储内容
	value[0] = 'q'
	again, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
