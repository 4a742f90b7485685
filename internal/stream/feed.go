package stream

import (
	"sync"

	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

// DefaultFeedCapacity is the number of ticks retained when no capacity is configured
const DefaultFeedCapacity = 1000

// Feed is a bounded, newest-first buffer of ticks. Readers always see whole batches.
type Feed struct {
	mu       sync.RWMutex
	capacity int
	ticks    []models.Tick
	version  uint64
}

// NewFeed creates a feed holding at most capacity ticks
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{capacity: capacity}
}

// Append adds a batch in delivery order, so the last tick of the batch becomes
// the newest entry. The oldest ticks beyond capacity are discarded.
func (f *Feed) Append(batch []models.Tick) {
	if len(batch) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	size := len(batch) + len(f.ticks)
	if size > f.capacity {
		size = f.capacity
	}
	next := make([]models.Tick, 0, size)
	for i := len(batch) - 1; i >= 0 && len(next) < size; i-- {
		next = append(next, batch[i])
	}
	for _, t := range f.ticks {
		if len(next) == size {
			break
		}
		next = append(next, t)
	}

	f.ticks = next
	f.version++
	metrics.FeedSize.Set(float64(len(next)))
}

// Snapshot returns a copy of every retained tick, newest first
func (f *Feed) Snapshot() []models.Tick {
	return f.Latest(0)
}

// Latest returns up to n of the newest ticks. n <= 0 returns all.
func (f *Feed) Latest(n int) []models.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > len(f.ticks) {
		n = len(f.ticks)
	}
	out := make([]models.Tick, n)
	copy(out, f.ticks[:n])
	return out
}

// Len returns the number of retained ticks
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ticks)
}

// Capacity returns the maximum number of retained ticks
func (f *Feed) Capacity() int {
	return f.capacity
}

// Version increases by one for every appended batch
func (f *Feed) Version() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}
