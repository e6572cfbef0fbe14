// Package syncutil provides keyed locking primitives for serializing
// per-call work without unbounded lock bookkeeping.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is a power of two so the modulo stays cheap; 256 shards keep
// contention negligible for realistic concurrent call volumes.
const shardCount = 256

// ShardedMutex serializes operations by string key using a fixed pool of
// mutexes. Memory stays bounded no matter how many distinct keys are seen;
// the trade-off is occasional false sharing between keys hashing to the
// same shard, which only costs latency, never correctness.
//
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex guarding key and returns the corresponding unlock
// function. Callers must invoke the returned function exactly once.
func (s *ShardedMutex) Lock(key string) (unlock func()) {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
