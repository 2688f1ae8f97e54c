package rate

import (
	"context"
	"testing"
	"time"
)

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

func TestKey(t *testing.T) {
	if got := Key("login", " 10.0.0.1 "); got != "login:10.0.0.1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("register"); got != "register" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	now := time.Now()
	limiter := NewMemoryAt(1, time.Second, now)

	if allowed, _, _ := limiter.Allow(context.Background(), "1.1.1.1", now); !allowed {
		t.Fatalf("expected allow")
	}
	if limiter.size() != 1 {
		t.Fatalf("expected entry")
	}

	later := now.Add(2 * time.Second)
	limiter.Allow(context.Background(), "2.2.2.2", later)
	if limiter.size() != 1 {
		t.Fatalf("expected cleanup to remove expired entries")
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	limiter := NewMemory(0, time.Second)
	for i := 0; i < 10; i++ {
		if allowed, _, _ := limiter.Allow(context.Background(), "ip", time.Now()); !allowed {
			t.Fatalf("expected zero limit to disable limiting")
		}
	}
}
