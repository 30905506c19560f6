package settings

import "time"

// Defaults shared by configuration and the components it feeds.
const (
	// DefaultPort is the HTTP listen port.
	DefaultPort = 8080
	// DefaultConfigPath is the config file used when none is given.
	DefaultConfigPath = "config.yaml"
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix for quota counters.
	DefaultRateLimitRedisPrefix = "llmur:rl"
	// DefaultRouterRedisPrefix is the Redis key prefix for shared routing cursors.
	DefaultRouterRedisPrefix = "llmur:rr"
	// DefaultUpstreamTimeout bounds the wait for upstream response headers.
	DefaultUpstreamTimeout = 10 * time.Minute
	// DefaultSessionExpiry is the lifetime of an admin session token.
	DefaultSessionExpiry = 30 * 24 * time.Hour
	// DefaultRequestLogBuffer is the capacity of the request log queue.
	DefaultRequestLogBuffer = 1024
	// DefaultRequestLogRetentionDays keeps request logs for this many days (0 keeps forever).
	DefaultRequestLogRetentionDays = 30
	// DefaultPruneSchedule is the cron spec for request log pruning.
	DefaultPruneSchedule = "0 3 * * *"
	// DefaultServiceName identifies the process in traces.
	DefaultServiceName = "llmur"
)

// HTTP headers recognised by the admin API.
const (
	// MasterKeyHeader carries a master key.
	MasterKeyHeader = "X-LLMur-Key"
	// SessionHeader carries an admin session token.
	SessionHeader = "X-LLMur-Session"
)
