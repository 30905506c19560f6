package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memorySweepInterval = time.Minute

type memoryEntry struct {
	count   int64
	expires time.Time
}

// MemoryLimiter implements fixed-window counters in process memory.
// A single mutex covers check and increment so concurrent callers never overshoot.
type MemoryLimiter struct {
	mu        sync.Mutex
	counters  map[string]*memoryEntry
	lastSweep time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// CheckAndIncrement increments every counter when none would exceed its limit.
// It returns the indices of counters that rejected the request.
func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, counters []counter, now time.Time) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	var rejected []int
	for i, c := range counters {
		if l.currentLocked(c.key, now)+1 > c.limit {
			rejected = append(rejected, i)
		}
	}
	if len(rejected) > 0 {
		return rejected, nil
	}
	for _, c := range counters {
		l.addLocked(c, 1, now)
	}
	return nil, nil
}

// Exceeded returns the indices of counters whose usage already reached the limit.
func (l *MemoryLimiter) Exceeded(_ context.Context, counters []counter, now time.Time) ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var exceeded []int
	for i, c := range counters {
		if l.currentLocked(c.key, now) >= c.limit {
			exceeded = append(exceeded, i)
		}
	}
	return exceeded, nil
}

// Add increments every counter by amount.
func (l *MemoryLimiter) Add(_ context.Context, counters []counter, amount int64, now time.Time) error {
	if amount <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range counters {
		l.addLocked(c, amount, now)
	}
	return nil
}

func (l *MemoryLimiter) currentLocked(key string, now time.Time) int64 {
	entry := l.counters[key]
	if entry == nil || !now.Before(entry.expires) {
		return 0
	}
	return entry.count
}

func (l *MemoryLimiter) addLocked(c counter, amount int64, now time.Time) {
	entry := l.counters[c.key]
	if entry == nil || !now.Before(entry.expires) {
		entry = &memoryEntry{expires: c.reset}
		l.counters[c.key] = entry
	}
	entry.count += amount
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < memorySweepInterval {
		return
	}
	l.lastSweep = now
	for key, entry := range l.counters {
		if !now.Before(entry.expires) {
			delete(l.counters, key)
		}
	}
}
