package shard

import "sync"

// Buckets partitions a map[string]V across n independent, RWMutex-guarded
// buckets keyed by Index(key, n). Combined with a Ring for the write path,
// this gives each shard an independently lockable slice of state instead of
// one global mutex (dexidp/dex's storage/memory package uses a single
// sync.Mutex for the whole store; Buckets generalizes that to N
// independently contended partitions so cross-shard operations never
// contend with each other).
type Buckets[V any] struct {
	n    int
	mus  []sync.RWMutex
	data []map[string]V
}

// NewBuckets allocates n buckets.
func NewBuckets[V any](n int) *Buckets[V] {
	b := &Buckets[V]{n: n, mus: make([]sync.RWMutex, n), data: make([]map[string]V, n)}
	for i := range b.data {
		b.data[i] = make(map[string]V)
	}
	return b
}

func (b *Buckets[V]) idx(key string) int { return Index(key, b.n) }

// Get returns the value for key and whether it was present. Safe to call
// concurrently with writes to other keys, including keys in other buckets.
func (b *Buckets[V]) Get(key string) (V, bool) {
	i := b.idx(key)
	b.mus[i].RLock()
	defer b.mus[i].RUnlock()
	v, ok := b.data[i][key]
	return v, ok
}

// Mutate runs fn with exclusive access to the bucket owning key, passing
// the current value (zero value if absent) and whether it was present. fn
// returns the new value, whether to delete the key, and an error. On error,
// no mutation is applied.
func (b *Buckets[V]) Mutate(key string, fn func(v V, ok bool) (V, bool, error)) error {
	i := b.idx(key)
	b.mus[i].Lock()
	defer b.mus[i].Unlock()
	cur, ok := b.data[i][key]
	next, del, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if del {
		delete(b.data[i], key)
		return nil
	}
	b.data[i][key] = next
	return nil
}

// Range iterates a snapshot of every bucket. fn is called under each
// bucket's read lock in turn, never holding more than one bucket locked at
// a time.
func (b *Buckets[V]) Range(fn func(key string, v V) bool) {
	for i := range b.data {
		b.mus[i].RLock()
		cont := true
		for k, v := range b.data[i] {
			if !fn(k, v) {
				cont = false
				break
			}
		}
		b.mus[i].RUnlock()
		if !cont {
			return
		}
	}
}

// DeleteWhere removes every entry for which pred returns true, returning
// the count removed. Used by GarbageCollect passes.
func (b *Buckets[V]) DeleteWhere(pred func(key string, v V) bool) int {
	n := 0
	for i := range b.data {
		b.mus[i].Lock()
		for k, v := range b.data[i] {
			if pred(k, v) {
				delete(b.data[i], k)
				n++
			}
		}
		b.mus[i].Unlock()
	}
	return n
}
