package ratelimit

import (
	"strings"

	internalsettings "github.com/llmur/llmur/internal/settings"
)

// SettingsConfig captures the backend settings of the limiter.
type SettingsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// RedisEnabled reports whether a Redis backend is configured.
func (c SettingsConfig) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

func (c SettingsConfig) normalized() SettingsConfig {
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RedisPassword = strings.TrimSpace(c.RedisPassword)
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	return c
}
