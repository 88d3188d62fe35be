package domain

import (
	"testing"
	"time"
)

func TestNormalize_FillsDefaults(t *testing.T) {
	p := RoutePolicy{Name: "orders"}
	p.Normalize()

	if p.Service != "orders" {
		t.Fatalf("service defaults to the route name, got %q", p.Service)
	}
	if p.RateLimit.Capacity != 100 || p.RateLimit.Cost != 1 {
		t.Fatalf("unexpected rate limit defaults: %+v", p.RateLimit)
	}
	if p.Bulkhead.MaxConcurrent != 50 || p.Bulkhead.QueueWait != 2*time.Second {
		t.Fatalf("unexpected bulkhead defaults: %+v", p.Bulkhead)
	}
	if p.Breaker.FailureThreshold != 5 || p.Breaker.SuccessToClose != 2 || p.Breaker.SlidingWindowSize != 20 {
		t.Fatalf("unexpected breaker defaults: %+v", p.Breaker)
	}
	if p.Timeout.PerAttempt != 5*time.Second {
		t.Fatalf("unexpected timeout default: %+v", p.Timeout)
	}
	if p.Retry.MaxAttempts != 3 || p.Retry.Jitter != 0.5 {
		t.Fatalf("unexpected retry defaults: %+v", p.Retry)
	}

	if err := p.Validate(); err != nil {
		t.Fatalf("normalized policy must validate, got %v", err)
	}
}

func TestNormalize_KeepsExplicitValues(t *testing.T) {
	p := RoutePolicy{
		Name:      "orders",
		RateLimit: RateLimitPolicy{Capacity: 7},
		Retry:     RetryPolicy{MaxAttempts: 1},
	}
	p.Normalize()

	if p.RateLimit.Capacity != 7 || p.Retry.MaxAttempts != 1 {
		t.Fatalf("explicit values must survive Normalize: %+v", p)
	}
}

func TestValidate_RejectsBadPolicies(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RoutePolicy)
	}{
		{"jitter acima de 1", func(p *RoutePolicy) { p.Retry.Jitter = 1.5 }},
		{"taxa de falha acima de 1", func(p *RoutePolicy) { p.Breaker.FailureRateThreshold = 2 }},
		{"maxBackoff menor que base", func(p *RoutePolicy) {
			p.Retry.BaseBackoff = time.Second
			p.Retry.MaxBackoff = 100 * time.Millisecond
		}},
		{"fila negativa", func(p *RoutePolicy) { p.Bulkhead.QueueCapacity = -1 }},
		{"mais sucessos exigidos que probes", func(p *RoutePolicy) {
			p.Breaker.SuccessToClose = 5
			p.Breaker.HalfOpenProbes = 3
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := RoutePolicy{Name: "orders"}
			p.Normalize()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
