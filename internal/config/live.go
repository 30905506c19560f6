package config

import (
	"crypto/subtle"
	"sync/atomic"
)

// Runtime holds the settings that may change without a restart.
type Runtime struct {
	MasterKeys []string
	LogLevel   string
}

// Live publishes the current Runtime to concurrent readers.
type Live struct {
	current atomic.Pointer[Runtime]
}

// NewLive seeds a Live from cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.Update(cfg)
	return l
}

// Update replaces the runtime snapshot with the values of cfg.
func (l *Live) Update(cfg *Config) {
	if l == nil || cfg == nil {
		return
	}
	keys := make([]string, len(cfg.MasterKeys))
	copy(keys, cfg.MasterKeys)
	l.current.Store(&Runtime{MasterKeys: keys, LogLevel: cfg.Logging.Level})
}

// Snapshot returns the current runtime settings.
func (l *Live) Snapshot() Runtime {
	if l == nil {
		return Runtime{}
	}
	if rt := l.current.Load(); rt != nil {
		return *rt
	}
	return Runtime{}
}

// IsMasterKey reports whether key matches a configured master key.
func (l *Live) IsMasterKey(key string) bool {
	if key == "" {
		return false
	}
	match := 0
	for _, candidate := range l.Snapshot().MasterKeys {
		match |= subtle.ConstantTimeCompare([]byte(candidate), []byte(key))
	}
	return match == 1
}
