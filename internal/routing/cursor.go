package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// CursorStore hands out monotonically increasing cursor values per deployment.
type CursorStore interface {
	Next(ctx context.Context, deploymentID string) (uint64, error)
	Forget(ctx context.Context, deploymentID string) error
}

// RedisCursorStore shares cursors across gateway instances through INCR.
// While Redis is failing it returns errors and the router falls back to its in-process cursor.
type RedisCursorStore struct {
	client *redis.Client
	prefix string
	nowFn  func() time.Time

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewRedisCursorStore constructs a RedisCursorStore.
func NewRedisCursorStore(client *redis.Client, prefix string) *RedisCursorStore {
	return &RedisCursorStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
		nowFn:  time.Now,
	}
}

// Next returns the cursor value before the increment.
func (s *RedisCursorStore) Next(ctx context.Context, deploymentID string) (uint64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("routing cursor: redis not configured")
	}
	now := s.nowFn()
	if s.isBreakerActive(now) {
		return 0, errors.New("routing cursor: redis breaker open")
	}
	v, errIncr := s.client.Incr(ctx, s.key(deploymentID)).Result()
	if errIncr != nil {
		s.tripBreaker(errIncr, now)
		return 0, errIncr
	}
	if v < 1 {
		return 0, nil
	}
	return uint64(v - 1), nil
}

// Forget drops the shared cursor of a deleted deployment.
func (s *RedisCursorStore) Forget(ctx context.Context, deploymentID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(deploymentID)).Err()
}

func (s *RedisCursorStore) key(deploymentID string) string {
	if s.prefix == "" {
		return deploymentID
	}
	return s.prefix + ":" + deploymentID
}

func (s *RedisCursorStore) isBreakerActive(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakerUntil.IsZero() {
		return false
	}
	if now.Before(s.breakerUntil) {
		return true
	}
	s.breakerUntil = time.Time{}
	return false
}

func (s *RedisCursorStore) tripBreaker(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.breakerUntil.IsZero() && now.Before(s.breakerUntil) {
		return
	}
	s.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("routing: redis cursor unavailable, using local cursor")
}
