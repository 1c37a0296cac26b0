package utils

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyMutex 提供按键互斥：同一个键上的临界区互相串行，
// 不同键完全并行。锁用引用计数回收，键集合不会无限增长。
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewKeyMutex 创建按键互斥锁
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Lock 获取 key 对应的互斥锁
func (k *KeyMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock 释放 key 对应的互斥锁
func (k *KeyMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("utils: unlock of unlocked key " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
