package ratelimit

import (
	"context"
	"time"

	"github.com/llmur/llmur/internal/models"
)

// Scope names the entity a counter belongs to.
type Scope string

const (
	ScopeVirtualKey Scope = "key"
	ScopeDeployment Scope = "deployment"
	ScopeProject    Scope = "project"
)

// Kind separates request counters from token counters.
type Kind string

const (
	KindRequests Kind = "requests"
	KindTokens   Kind = "tokens"
)

// ScopeLimit is one quota: at most Limit units for entity ID in the current Period window.
type ScopeLimit struct {
	Scope  Scope
	ID     string
	Period models.Period
	Limit  int64
	Kind   Kind
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed bool
	// Exhausted lists the limits that rejected the request.
	Exhausted []ScopeLimit
	// Reset is the earliest window end among exhausted limits.
	Reset time.Time
}

// RetryAfter returns the wait until Reset relative to now.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Reset.IsZero() {
		return 0
	}
	d := r.Reset.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// counter is a ScopeLimit bound to a concrete window.
type counter struct {
	key   string
	limit int64
	reset time.Time
}

// Limiter is a counter backend.
type Limiter interface {
	// CheckAndIncrement increments every counter by one only if each stays within its limit.
	CheckAndIncrement(ctx context.Context, counters []counter, now time.Time) ([]int, error)
	// Exceeded reports the indices of counters already at or above their limit.
	Exceeded(ctx context.Context, counters []counter, now time.Time) ([]int, error)
	// Add increments every counter by amount without checking limits.
	Add(ctx context.Context, counters []counter, amount int64, now time.Time) error
}
