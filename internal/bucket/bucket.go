// Package bucket provides the global token bucket that gates how many alerts
// are turned into notifications, and the background refiller that tops it up.
package bucket

import "sync"

const (
	// DefaultCapacity is the maximum number of tokens held by the bucket.
	DefaultCapacity = 20
	// Quantum is the number of tokens added per refill.
	Quantum = 1
)

// TokenBucket is a bounded counter shared between the alert consumer, which
// takes tokens, and the refiller, which returns them.
// The count never exceeds the capacity and never goes negative.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	count    int
}

// New creates a full bucket with the given capacity.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TokenBucket{
		capacity: capacity,
		count:    capacity,
	}
}

// TryTake removes one token if any is available.
// Returns false without touching the count when the bucket is empty.
func (b *TokenBucket) TryTake() bool {
	_, ok := b.Take()
	return ok
}

// Take is TryTake that also reports the count left after the take, read
// under the same lock.
func (b *TokenBucket) Take() (remaining int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count <= 0 {
		return 0, false
	}
	b.count--
	return b.count, true
}

// Refill adds Quantum tokens unless the bucket is already full.
func (b *TokenBucket) Refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count >= b.capacity {
		return
	}
	b.count += Quantum
	if b.count > b.capacity {
		b.count = b.capacity
	}
}

// Remaining returns a snapshot of the current token count.
func (b *TokenBucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the maximum number of tokens.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}
