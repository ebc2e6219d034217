package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBucketStartsFull(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)}
	bucket := newBucket(3, 1, clock.now)

	assert.True(t, bucket.Allow(1))
	assert.True(t, bucket.Allow(1))
	assert.True(t, bucket.Allow(1))
	assert.False(t, bucket.Allow(1))
}

func TestBucketRefills(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)}
	bucket := newBucket(2, 0.5, clock.now)

	assert.True(t, bucket.Allow(1))
	assert.True(t, bucket.Allow(1))
	assert.False(t, bucket.Allow(1))

	// Half a token after one second is not enough.
	clock.advance(time.Second)
	assert.False(t, bucket.Allow(1))

	clock.advance(time.Second)
	assert.True(t, bucket.Allow(1))
	assert.False(t, bucket.Allow(1))
}

func TestBucketRefillCapsAtCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)}
	bucket := newBucket(2, 1, clock.now)

	clock.advance(time.Hour)
	assert.True(t, bucket.Allow(1))
	assert.True(t, bucket.Allow(1))
	assert.False(t, bucket.Allow(1))
}

func TestBucketRejectsOversizedCost(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)}
	bucket := newBucket(2, 1, clock.now)

	assert.False(t, bucket.Allow(3))
	// The failed attempt consumed nothing.
	assert.True(t, bucket.Allow(2))
}

func TestRegistryKeysAreIndependent(t *testing.T) {
	registry := NewRegistry(1, 0)

	assert.True(t, registry.Get("ws-a:post").Allow(1))
	assert.False(t, registry.Get("ws-a:post").Allow(1))

	// A different key gets its own full bucket.
	assert.True(t, registry.Get("ws-b:post").Allow(1))
	assert.True(t, registry.Get("ws-a:reply").Allow(1))
}
