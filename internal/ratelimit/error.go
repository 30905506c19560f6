package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Error is returned to callers whose request exceeded a quota.
type Error struct {
	Scope   Scope
	Period  string
	Kind    Kind
	ResetIn time.Duration
}

// NewError builds the error for a rejected result.
func NewError(res Result, now time.Time) *Error {
	e := &Error{ResetIn: res.RetryAfter(now)}
	if len(res.Exhausted) > 0 {
		first := res.Exhausted[0]
		e.Scope = first.Scope
		e.Period = string(first.Period)
		e.Kind = first.Kind
	}
	return e
}

func (e *Error) Error() string {
	if e.Kind == KindTokens {
		return fmt.Sprintf("token limit exceeded for %s (per %s)", e.Scope, e.Period)
	}
	return fmt.Sprintf("rate limit exceeded for %s (per %s)", e.Scope, e.Period)
}

// StatusCode implements the status-bearing error contract.
func (e *Error) StatusCode() int {
	return http.StatusTooManyRequests
}

// Headers returns Retry-After in whole seconds.
func (e *Error) Headers() http.Header {
	headers := make(http.Header)
	resetSeconds := int(math.Ceil(e.ResetIn.Seconds()))
	if resetSeconds < 0 {
		resetSeconds = 0
	}
	headers.Set("Retry-After", strconv.Itoa(resetSeconds))
	return headers
}
