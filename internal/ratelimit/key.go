package ratelimit

import (
	"strconv"
	"strings"
	"time"
)

// counterKey builds <prefix>:<scope>:<id>:<period>:<bucket_start_unix>.
// Token counters carry a tokens segment after the prefix.
func counterKey(prefix string, limit ScopeLimit, now time.Time) string {
	parts := make([]string, 0, 6)
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		parts = append(parts, prefix)
	}
	if limit.Kind == KindTokens {
		parts = append(parts, string(KindTokens))
	}
	parts = append(parts,
		string(limit.Scope),
		limit.ID,
		string(limit.Period),
		strconv.FormatInt(limit.Period.BucketStart(now).Unix(), 10),
	)
	return strings.Join(parts, ":")
}

func buildCounters(prefix string, limits []ScopeLimit, now time.Time) []counter {
	out := make([]counter, 0, len(limits))
	for _, l := range limits {
		out = append(out, counter{
			key:   counterKey(prefix, l, now),
			limit: l.Limit,
			reset: l.Period.BucketEnd(now),
		})
	}
	return out
}

func activeLimits(limits []ScopeLimit) []ScopeLimit {
	out := make([]ScopeLimit, 0, len(limits))
	for _, l := range limits {
		if strings.TrimSpace(l.ID) == "" || l.Limit < 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}
