package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/llmur/llmur/internal/models"
	"gorm.io/datatypes"
)

func fixedClock(t time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := t
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

func TestCounterKeyFormat(t *testing.T) {
	now := time.Date(2025, 3, 12, 15, 4, 5, 0, time.UTC)
	key := counterKey("llmur:rl", ScopeLimit{Scope: ScopeProject, ID: "p1", Period: models.PeriodDay, Limit: 1}, now)
	expected := "llmur:rl:project:p1:day:" + "1741737600"
	if key != expected {
		t.Fatalf("expected %q, got %q", expected, key)
	}
	tokens := counterKey("llmur:rl", ScopeLimit{Scope: ScopeVirtualKey, ID: "k", Period: models.PeriodMinute, Kind: KindTokens}, now)
	if tokens != "llmur:rl:tokens:key:k:minute:1741791840" {
		t.Fatalf("unexpected token key %q", tokens)
	}
}

func TestCheckAndIncrementDailyLimit(t *testing.T) {
	nowFn, advance := fixedClock(time.Date(2025, 3, 12, 23, 59, 0, 0, time.UTC))
	m := NewManager(nil, nowFn, nil)
	limits := []ScopeLimit{{Scope: ScopeVirtualKey, ID: "k", Period: models.PeriodDay, Limit: 1}}

	res, err := m.CheckAndIncrement(context.Background(), limits)
	if err != nil || !res.Allowed {
		t.Fatalf("expected first request allowed, got %+v err=%v", res, err)
	}
	res, err = m.CheckAndIncrement(context.Background(), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected second request rejected")
	}
	if got := res.RetryAfter(nowFn()); got != time.Minute {
		t.Fatalf("expected retry after 1m, got %v", got)
	}
	rlErr := NewError(res, nowFn())
	if rlErr.StatusCode() != 429 || rlErr.Headers().Get("Retry-After") != "60" {
		t.Fatalf("unexpected error shape: %d %q", rlErr.StatusCode(), rlErr.Headers().Get("Retry-After"))
	}

	advance(time.Minute)
	res, err = m.CheckAndIncrement(context.Background(), limits)
	if err != nil || !res.Allowed {
		t.Fatalf("expected request allowed in the next window, got %+v err=%v", res, err)
	}
}

func TestRejectionConsumesNothing(t *testing.T) {
	m := NewManager(nil, nil, nil)
	ctx := context.Background()
	project := ScopeLimit{Scope: ScopeProject, ID: "p", Period: models.PeriodDay, Limit: 2}
	keyA := ScopeLimit{Scope: ScopeVirtualKey, ID: "a", Period: models.PeriodDay, Limit: 1}
	keyB := ScopeLimit{Scope: ScopeVirtualKey, ID: "b", Period: models.PeriodDay, Limit: 5}

	if res, _ := m.CheckAndIncrement(ctx, []ScopeLimit{keyA, project}); !res.Allowed {
		t.Fatalf("expected first request allowed")
	}
	res, _ := m.CheckAndIncrement(ctx, []ScopeLimit{keyA, project})
	if res.Allowed {
		t.Fatalf("expected key a exhausted")
	}
	if len(res.Exhausted) != 1 || res.Exhausted[0].Scope != ScopeVirtualKey {
		t.Fatalf("expected key scope exhausted, got %+v", res.Exhausted)
	}
	if res, _ := m.CheckAndIncrement(ctx, []ScopeLimit{keyB, project}); !res.Allowed {
		t.Fatalf("expected project budget untouched by the rejected request")
	}
	res, _ = m.CheckAndIncrement(ctx, []ScopeLimit{keyB, project})
	if res.Allowed || res.Exhausted[0].Scope != ScopeProject {
		t.Fatalf("expected project exhausted, got %+v", res)
	}
}

func TestConcurrentCallersAdmitExactlyLimit(t *testing.T) {
	m := NewManager(nil, nil, nil)
	limits := []ScopeLimit{{Scope: ScopeDeployment, ID: "d", Period: models.PeriodHour, Limit: 25}}
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.CheckAndIncrement(context.Background(), limits)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 25 {
		t.Fatalf("expected 25 admitted, got %d", allowed.Load())
	}
}

func TestTokenUsage(t *testing.T) {
	m := NewManager(nil, nil, nil)
	ctx := context.Background()
	limits := []ScopeLimit{{Scope: ScopeVirtualKey, ID: "k", Period: models.PeriodDay, Limit: 100, Kind: KindTokens}}
	if res, _ := m.CheckUsage(ctx, limits); !res.Allowed {
		t.Fatalf("expected usage check to pass with no usage")
	}
	if err := m.Add(ctx, limits, 60); err != nil {
		t.Fatalf("add: %v", err)
	}
	if res, _ := m.CheckUsage(ctx, limits); !res.Allowed {
		t.Fatalf("expected usage check to pass below the limit")
	}
	if err := m.Add(ctx, limits, 40); err != nil {
		t.Fatalf("add: %v", err)
	}
	res, _ := m.CheckUsage(ctx, limits)
	if res.Allowed {
		t.Fatalf("expected usage check to fail at the limit")
	}
	if NewError(res, time.Now()).Kind != KindTokens {
		t.Fatalf("expected token error kind")
	}
}

func TestNoLimitsAlwaysAllowed(t *testing.T) {
	m := NewManager(nil, nil, nil)
	res, err := m.CheckAndIncrement(context.Background(), []ScopeLimit{{Scope: ScopeProject, ID: "", Period: models.PeriodDay, Limit: 0}})
	if err != nil || !res.Allowed {
		t.Fatalf("expected limits without id ignored, got %+v err=%v", res, err)
	}
	var nilManager *Manager
	if res, _ := nilManager.CheckAndIncrement(context.Background(), []ScopeLimit{{Scope: ScopeProject, ID: "p", Period: models.PeriodDay}}); !res.Allowed {
		t.Fatalf("expected nil manager to allow")
	}
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	m := NewManager(func() SettingsConfig {
		return SettingsConfig{RedisAddr: "127.0.0.1:1"}
	}, nil, nil)
	limits := []ScopeLimit{{Scope: ScopeVirtualKey, ID: "k", Period: models.PeriodDay, Limit: 1}}
	res, err := m.CheckAndIncrement(context.Background(), limits)
	if err != nil || !res.Allowed {
		t.Fatalf("expected fallback to admit, got %+v err=%v", res, err)
	}
	if !m.isBreakerActive(time.Now()) {
		t.Fatalf("expected breaker to be tripped")
	}
	res, err = m.CheckAndIncrement(context.Background(), limits)
	if err != nil || res.Allowed {
		t.Fatalf("expected memory backend to enforce the limit, got %+v err=%v", res, err)
	}
}

func TestScopeLimitsFromModels(t *testing.T) {
	one := int64(1)
	ten := int64(10)
	key := &models.VirtualKey{ID: "k", RequestLimits: datatypes.NewJSONType(models.RequestLimits{RequestsPerDay: &one})}
	deployment := &models.Deployment{ID: "d", RequestLimits: datatypes.NewJSONType(models.RequestLimits{RequestsPerMinute: &ten, RequestsPerDay: &one})}
	project := &models.Project{ID: "p", TokenLimits: datatypes.NewJSONType(models.TokenLimits{TokensPerMonth: &ten})}

	requests := RequestLimits(key, deployment, project)
	if len(requests) != 3 {
		t.Fatalf("expected 3 request limits, got %d", len(requests))
	}
	if requests[1].Scope != ScopeDeployment || requests[1].Period != models.PeriodMinute {
		t.Fatalf("expected deployment minute limit second, got %+v", requests[1])
	}
	tokens := TokenLimits(key, deployment, project)
	if len(tokens) != 1 || tokens[0].Kind != KindTokens || tokens[0].Scope != ScopeProject {
		t.Fatalf("unexpected token limits: %+v", tokens)
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("LLMUR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LLMUR_TEST_REDIS_ADDR not set")
	}
	m := NewManager(func() SettingsConfig {
		return SettingsConfig{RedisAddr: addr, RedisPrefix: "llmur:test:" + uuid.NewString()}
	}, nil, nil)
	defer func() { _ = m.Close() }()
	limits := []ScopeLimit{
		{Scope: ScopeVirtualKey, ID: "k", Period: models.PeriodMinute, Limit: 2},
		{Scope: ScopeProject, ID: "p", Period: models.PeriodMinute, Limit: 3},
	}
	for i := 0; i < 2; i++ {
		if res, err := m.CheckAndIncrement(context.Background(), limits); err != nil || !res.Allowed {
			t.Fatalf("expected request %d allowed, got %+v err=%v", i, res, err)
		}
	}
	res, err := m.CheckAndIncrement(context.Background(), limits)
	if err != nil || res.Allowed {
		t.Fatalf("expected rejection, got %+v err=%v", res, err)
	}
	if m.isBreakerActive(time.Now()) {
		t.Fatalf("expected redis backend to stay healthy")
	}
}
