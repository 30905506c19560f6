package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	addr     string
	password string
	db       int
}

// Manager selects a limiter backend and enforces quotas.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memoryLimiter  Limiter
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisLimiter   *RedisLimiter
	redisClient    *redis.Client
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() SettingsConfig { return SettingsConfig{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// CheckAndIncrement admits the request only when every limit has budget left,
// consuming one unit from each of them in the same step. A rejection consumes nothing.
func (m *Manager) CheckAndIncrement(ctx context.Context, limits []ScopeLimit) (Result, error) {
	limits = activeLimits(limits)
	if m == nil || len(limits) == 0 {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	cfg := m.provider().normalized()
	counters := buildCounters(cfg.RedisPrefix, limits, now)

	rejected, err := m.run(ctx, cfg, now, func(l Limiter) ([]int, error) {
		return l.CheckAndIncrement(ctx, counters, now)
	})
	if err != nil {
		return Result{}, err
	}
	return buildResult(limits, counters, rejected), nil
}

// CheckUsage rejects when any limit has already been used up. Nothing is consumed.
func (m *Manager) CheckUsage(ctx context.Context, limits []ScopeLimit) (Result, error) {
	limits = activeLimits(limits)
	if m == nil || len(limits) == 0 {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()
	cfg := m.provider().normalized()
	counters := buildCounters(cfg.RedisPrefix, limits, now)

	exceeded, err := m.run(ctx, cfg, now, func(l Limiter) ([]int, error) {
		return l.Exceeded(ctx, counters, now)
	})
	if err != nil {
		return Result{}, err
	}
	return buildResult(limits, counters, exceeded), nil
}

// Add records amount units against every limit in the current windows.
func (m *Manager) Add(ctx context.Context, limits []ScopeLimit, amount int64) error {
	limits = activeLimits(limits)
	if m == nil || len(limits) == 0 || amount <= 0 {
		return nil
	}
	now := m.nowFn()
	cfg := m.provider().normalized()
	counters := buildCounters(cfg.RedisPrefix, limits, now)
	_, err := m.run(ctx, cfg, now, func(l Limiter) ([]int, error) {
		return nil, l.Add(ctx, counters, amount, now)
	})
	return err
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisClient == nil {
		return nil
	}
	errClose := m.redisClient.Close()
	m.redisClient = nil
	m.redisLimiter = nil
	return errClose
}

func (m *Manager) run(ctx context.Context, cfg SettingsConfig, now time.Time, op func(Limiter) ([]int, error)) ([]int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.RedisEnabled() && !m.isBreakerActive(now) {
		limiter, errEnsure := m.ensureRedis(ctx, cfg)
		if errEnsure != nil {
			m.tripBreaker(errEnsure, now)
		} else {
			out, errOp := op(limiter)
			if errOp == nil {
				return out, nil
			}
			if errors.Is(errOp, context.Canceled) {
				return nil, errOp
			}
			m.tripBreaker(errOp, now)
		}
	}
	return op(m.memoryLimiter)
}

func buildResult(limits []ScopeLimit, counters []counter, rejected []int) Result {
	if len(rejected) == 0 {
		return Result{Allowed: true}
	}
	res := Result{Exhausted: make([]ScopeLimit, 0, len(rejected))}
	for _, idx := range rejected {
		res.Exhausted = append(res.Exhausted, limits[idx])
		reset := counters[idx].reset
		if res.Reset.IsZero() || reset.Before(res.Reset) {
			res.Reset = reset
		}
	}
	return res
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}
	nextCfg := redisConfig{
		addr:     cfg.RedisAddr,
		password: cfg.RedisPassword,
		db:       cfg.RedisDB,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisLimiter != nil && m.redisCfg == nextCfg {
		return m.redisLimiter, nil
	}
	if m.redisClient != nil {
		_ = m.redisClient.Close()
		m.redisClient = nil
		m.redisLimiter = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisClient = client
	m.redisLimiter = NewRedisLimiter(client)
	m.redisCfg = nextCfg
	return m.redisLimiter, nil
}
