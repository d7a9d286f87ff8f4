// Package shard implements the hash-to-shard dispatch and per-shard
// single-writer execution model used by every store in internal/store.
//
// Generalizes dexidp/dex's storage/memory single global mutex
// (storage/memory/memory.go's memStorage.tx) into N independently
// serialized shards: within a shard, writes execute in strict serial
// order; across shards, no ordering is implied. Each shard is modeled as
// a goroutine running a bounded mailbox, one writer owning one partition
// of keys.
package shard

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Index computes the shard number for key under a shard count n. n must be
// a power of two.
func Index(key string, n int) int {
	if n <= 0 || (n&(n-1)) != 0 {
		panic(fmt.Sprintf("shard count must be a power of two, got %d", n))
	}
	sum := sha256.Sum256([]byte(key))
	h := binary.BigEndian.Uint64(sum[:8])
	return int(h % uint64(n))
}

// Ring is a set of N single-writer shards. Each shard serializes the
// closures submitted to it via Do; distinct shards run concurrently.
type Ring struct {
	workers []*worker
	n       int
}

// New starts a Ring of n shards, each with a mailbox of the given depth.
// Callers must call Close when done to stop the worker goroutines.
func New(n int, mailboxDepth int) *Ring {
	r := &Ring{workers: make([]*worker, n), n: n}
	for i := range r.workers {
		r.workers[i] = newWorker(mailboxDepth)
	}
	return r
}

// N returns the shard count.
func (r *Ring) N() int { return r.n }

// Do runs fn serialized on the shard owning key, blocking until it
// completes or ctx is canceled. fn's error, if any, is returned to the
// caller; it is never treated as the worker's own failure.
func (r *Ring) Do(ctx context.Context, key string, fn func() error) error {
	w := r.workers[Index(key, r.n)]
	return w.do(ctx, fn)
}

// Close stops every shard worker. Outstanding Do calls return
// context.Canceled if still pending.
func (r *Ring) Close() {
	for _, w := range r.workers {
		w.close()
	}
}

// QueueDepths snapshots the number of pending jobs in each shard's mailbox,
// for operators observing whether any single writer is falling behind
//. The snapshot is inherently racy — jobs
// drain concurrently with the read — and is meant for gauges, not
// correctness.
func (r *Ring) QueueDepths() []int {
	depths := make([]int, len(r.workers))
	for i, w := range r.workers {
		depths[i] = len(w.jobs)
	}
	return depths
}

type job struct {
	fn   func() error
	done chan error
}

type worker struct {
	jobs chan job
	quit chan struct{}
}

func newWorker(depth int) *worker {
	w := &worker{jobs: make(chan job, depth), quit: make(chan struct{})}
	go w.run()
	return w
}

func (w *worker) run() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- j.fn()
		case <-w.quit:
			return
		}
	}
}

func (w *worker) do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return context.Canceled
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The job may still complete and mutate state; that is safe because
		// operations are idempotent up to the point their compare-and-set
		// lands, and the result is discarded once the caller has stopped
		// waiting.
		return ctx.Err()
	case <-w.quit:
		// The worker has stopped; a job still in the mailbox never runs.
		select {
		case err := <-j.done:
			return err
		default:
			return context.Canceled
		}
	}
}

func (w *worker) close() {
	close(w.quit)
}
