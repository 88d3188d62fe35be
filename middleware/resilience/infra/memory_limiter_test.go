package infra

import (
	"context"
	"testing"
	"time"

	"edge-gateway/middleware/resilience/domain"
)

func memPolicy(capacity int, refill float64) domain.RateLimitPolicy {
	return domain.RateLimitPolicy{Capacity: capacity, RefillRate: refill, Cost: 1, TTL: time.Hour}
}

func TestMemoryLimiter_CapacityThenReject(t *testing.T) {
	s := NewMemoryLimiterStore()
	p := memPolicy(3, 0.02)

	// capacidade 3 => três passam no mesmo instante, a quarta não
	for i := 0; i < 3; i++ {
		dec, err := s.Allow(context.Background(), "orders", "ip:10.0.0.1", p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}

	dec, err := s.Allow(context.Background(), "orders", "ip:10.0.0.1", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected request over capacity to be rejected")
	}
	if dec.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %s", dec.RetryAfter)
	}
}

func TestMemoryLimiter_RefillAllowsOneMore(t *testing.T) {
	s := NewMemoryLimiterStore()
	// refil rápido para o teste não dormir demais: 1 token a cada 20ms
	p := memPolicy(1, 50)

	dec, _ := s.Allow(context.Background(), "orders", "ip:10.0.0.1", p)
	if !dec.Allowed {
		t.Fatalf("expected first request to be allowed")
	}
	dec, _ = s.Allow(context.Background(), "orders", "ip:10.0.0.1", p)
	if dec.Allowed {
		t.Fatalf("expected second immediate request to be rejected (burst=1)")
	}

	time.Sleep(25 * time.Millisecond) // > 1/R

	dec, _ = s.Allow(context.Background(), "orders", "ip:10.0.0.1", p)
	if !dec.Allowed {
		t.Fatalf("expected request after refill interval to be allowed")
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	s := NewMemoryLimiterStore()
	p := memPolicy(1, 0.02)

	dec, _ := s.Allow(context.Background(), "orders", "api:k1", p)
	if !dec.Allowed {
		t.Fatalf("expected k1 to be allowed")
	}
	dec, _ = s.Allow(context.Background(), "orders", "api:k2", p)
	if !dec.Allowed {
		t.Fatalf("expected k2 to be allowed (own bucket)")
	}
	// mesma chave em rota diferente também tem bucket próprio
	dec, _ = s.Allow(context.Background(), "quotes", "api:k1", p)
	if !dec.Allowed {
		t.Fatalf("expected k1 on another route to be allowed")
	}
}

func TestMemoryLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewMemoryLimiterStore(WithIdleTTL(2*time.Millisecond), WithCleanupEvery(0))
	p := memPolicy(1, 0.02)

	// gasta o único token
	if dec, _ := s.Allow(context.Background(), "orders", "ip:1", p); !dec.Allowed {
		t.Fatalf("expected first request to be allowed")
	}
	time.Sleep(4 * time.Millisecond)

	s.Cleanup()

	// bucket recriado cheio depois da limpeza
	if dec, _ := s.Allow(context.Background(), "orders", "ip:1", p); !dec.Allowed {
		t.Fatalf("expected request after cleanup to be allowed (fresh bucket)")
	}
}
