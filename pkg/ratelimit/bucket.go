package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket admission gate. Allow is a pure admission
// decision: it never blocks and never queues, a rejected caller backs off
// until a later tick. Elapsed time is measured with the monotonic clock
// carried by time.Time, so wall-clock adjustments cannot drain or inflate
// the bucket.
type Bucket struct {
	mu              sync.Mutex
	capacity        float64
	refillPerSecond float64
	tokens          float64
	lastRefill      time.Time
	now             func() time.Time
}

// NewBucket creates a full bucket.
func NewBucket(capacity int, refillPerSecond float64) *Bucket {
	return newBucket(capacity, refillPerSecond, time.Now)
}

func newBucket(capacity int, refillPerSecond float64, now func() time.Time) *Bucket {
	return &Bucket{
		capacity:        float64(capacity),
		refillPerSecond: refillPerSecond,
		tokens:          float64(capacity),
		lastRefill:      now(),
		now:             now,
	}
}

// Allow consumes cost tokens if available and reports whether the call is
// admitted.
func (b *Bucket) Allow(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillPerSecond)
	b.lastRefill = now

	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

// Registry hands out one bucket per key, so callers can rate-limit each
// (workspace, channel) pairing independently.
type Registry struct {
	mu              sync.Mutex
	capacity        int
	refillPerSecond float64
	buckets         map[string]*Bucket
}

func NewRegistry(capacity int, refillPerSecond float64) *Registry {
	return &Registry{
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
		buckets:         make(map[string]*Bucket),
	}
}

// Get returns the bucket for key, creating it full on first use.
func (r *Registry) Get(key string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[key]
	if !ok {
		bucket = NewBucket(r.capacity, r.refillPerSecond)
		r.buckets[key] = bucket
	}
	return bucket
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
