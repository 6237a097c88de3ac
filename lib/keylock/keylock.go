// Package keylock provides a sharded mutex that serializes work per
// string key. Two goroutines locking the same key run one after the
// other; goroutines on different keys only contend when their keys
// hash to the same shard.
package keylock

import "sync"

// ----------------------------------------------
// Types
// ----------------------------------------------

// KeyedMutex maps keys onto a fixed set of mutex shards by hash.
//
// Thread-safety: all methods are safe for concurrent use.
type KeyedMutex struct {
	shards []sync.Mutex
	mask   uint32
}

// ----------------------------------------------
// Construction
// ----------------------------------------------

// New creates a KeyedMutex with at least shardCount shards, rounded up
// to the next power of two so the hash can be masked instead of
// reduced modulo.
func New(shardCount int) *KeyedMutex {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	return &KeyedMutex{
		shards: make([]sync.Mutex, n),
		mask:   uint32(n - 1),
	}
}

// ----------------------------------------------
// Locking
// ----------------------------------------------

// Lock acquires the shard owning key and returns the matching unlock
// function. Callers must invoke the returned function exactly once.
func (m *KeyedMutex) Lock(key string) func() {
	mu := &m.shards[fnv32(key)&m.mask]
	mu.Lock()
	return mu.Unlock
}

// fnv32 is the 32-bit FNV-1a hash.
func fnv32(key string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return h
}
