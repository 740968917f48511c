// Package state provides the concurrent per-service stores shared between
// the scheduler (sole writer) and every reader: streaming sessions, the
// REST layer and the restart path. Keys hash onto a fixed set of shards so
// a write to one service never blocks reads of another.
package state

import "sync"

const shardCount = 16

// Map is a sharded string-keyed map. Update gives the caller an atomic
// read-modify-write on a single key; Snapshot copies, it is never a live view.
type Map[V any] struct {
	shards [shardCount]*shard[V]
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

func NewMap[V any]() *Map[V] {
	m := &Map[V]{}
	for i := range m.shards {
		m.shards[i] = &shard[V]{entries: make(map[string]V)}
	}
	return m
}

// fnv-1a, inlined so the hot read path stays allocation free.
func shardIndex(key string) int {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime
	}
	return int(h % shardCount)
}

func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shards[shardIndex(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set stores the value as-is. Used for seeding; the scheduler's runtime
// writes go through Update.
func (m *Map[V]) Set(key string, value V) {
	s := m.shards[shardIndex(key)]
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
}

// Update applies fn to the value under key while holding that key's shard
// lock. A zero value is materialized when the key is absent.
func (m *Map[V]) Update(key string, fn func(*V)) {
	s := m.shards[shardIndex(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.entries[key]
	fn(&v)
	s.entries[key] = v
}

// Snapshot returns a copied slice of all current values.
func (m *Map[V]) Snapshot() []V {
	out := make([]V, 0, m.Len())
	for _, s := range m.shards {
		s.mu.RLock()
		for _, v := range s.entries {
			out = append(out, v)
		}
		s.mu.RUnlock()
	}
	return out
}

func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
