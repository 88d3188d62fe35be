package infra

import (
	"testing"
	"time"

	"edge-gateway/middleware/resilience/domain"
)

func breakerPolicy() domain.BreakerPolicy {
	return domain.BreakerPolicy{
		FailureThreshold:     3,
		FailureRateThreshold: 0.5,
		ResetTimeout:         30 * time.Millisecond,
		SuccessToClose:       2,
		SlidingWindowSize:    20,
		SlowCallThreshold:    50 * time.Millisecond,
		HalfOpenProbes:       2,
	}
}

func recordN(r *BreakerRegistry, route string, p domain.BreakerPolicy, success bool, n int) {
	for i := 0; i < n; i++ {
		r.Record(route, p, success, time.Millisecond)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 2)
	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("below threshold, expected CLOSED, got %s", got)
	}

	r.Record("orders", p, false, time.Millisecond)
	if got := r.State("orders"); got != domain.StateOpen {
		t.Fatalf("expected OPEN after %d failures, got %s", p.FailureThreshold, got)
	}

	dec := r.Allow("orders", p)
	if dec.Allowed {
		t.Fatalf("open breaker must reject")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > p.ResetTimeout {
		t.Fatalf("expected RetryAfter within reset window, got %s", dec.RetryAfter)
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 2)
	r.Record("orders", p, true, time.Millisecond)
	recordN(r, "orders", p, false, 2)

	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("failures were not consecutive, expected CLOSED, got %s", got)
	}
}

func TestBreaker_FailureRateGateHoldsCircuitClosed(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	// janela dominada por sucessos: mesmo 3 falhas seguidas ficam abaixo
	// da taxa exigida e o circuito não abre
	recordN(r, "orders", p, true, 15)
	recordN(r, "orders", p, false, 3)

	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("rate below threshold, expected CLOSED, got %s", got)
	}

	// mais falhas empurram a taxa da janela acima do limiar
	recordN(r, "orders", p, false, 8)
	if got := r.State("orders"); got != domain.StateOpen {
		t.Fatalf("expected OPEN once window rate crossed, got %s", got)
	}
}

func TestBreaker_ResetTimeoutMovesToHalfOpen(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 3)
	if dec := r.Allow("orders", p); dec.Allowed {
		t.Fatalf("expected rejection while OPEN")
	}

	time.Sleep(p.ResetTimeout + 5*time.Millisecond)

	dec := r.Allow("orders", p)
	if !dec.Allowed {
		t.Fatalf("expected probe after reset timeout")
	}
	if got := r.State("orders"); got != domain.StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", got)
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 3)
	time.Sleep(p.ResetTimeout + 5*time.Millisecond)

	for i := 0; i < p.HalfOpenProbes; i++ {
		if dec := r.Allow("orders", p); !dec.Allowed {
			t.Fatalf("probe %d should be allowed", i+1)
		}
	}
	dec := r.Allow("orders", p)
	if dec.Allowed {
		t.Fatalf("probe budget exhausted, expected rejection")
	}
	if dec.State != domain.StateHalfOpen {
		t.Fatalf("expected HALF_OPEN rejection, got %s", dec.State)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 3)
	time.Sleep(p.ResetTimeout + 5*time.Millisecond)

	if dec := r.Allow("orders", p); !dec.Allowed {
		t.Fatalf("expected probe to pass")
	}
	r.Record("orders", p, false, time.Millisecond)

	if got := r.State("orders"); got != domain.StateOpen {
		t.Fatalf("probe failure must reopen, got %s", got)
	}
	if dec := r.Allow("orders", p); dec.Allowed {
		t.Fatalf("expected rejection right after reopening")
	}
}

func TestBreaker_ClosesAfterEnoughProbeSuccesses(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 3)
	time.Sleep(p.ResetTimeout + 5*time.Millisecond)

	for i := 0; i < p.SuccessToClose; i++ {
		if dec := r.Allow("orders", p); !dec.Allowed {
			t.Fatalf("probe %d should be allowed", i+1)
		}
		r.Record("orders", p, true, time.Millisecond)
	}

	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("expected CLOSED after %d probe successes, got %s", p.SuccessToClose, got)
	}
	// contadores zerados: o circuito recomeça do zero
	recordN(r, "orders", p, false, 2)
	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("expected fresh counters after close, got %s", got)
	}
}

func TestBreaker_SlowFailuresTripWithoutConsecutiveRun(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()
	slow := p.SlowCallThreshold + 10*time.Millisecond

	// falhas lentas intercaladas com sucessos: o contador consecutivo zera,
	// mas o acumulado de chamadas lentas abre sozinho
	for i := 0; i < p.FailureThreshold-1; i++ {
		r.Record("orders", p, false, slow)
		r.Record("orders", p, true, time.Millisecond)
	}
	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("expected CLOSED before slow-call threshold, got %s", got)
	}

	r.Record("orders", p, false, slow)
	if got := r.State("orders"); got != domain.StateOpen {
		t.Fatalf("expected OPEN on slow-call count, got %s", got)
	}
}

func TestBreaker_CanceledProbesDoNotWedgeHalfOpen(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	recordN(r, "orders", p, false, 3)
	time.Sleep(p.ResetTimeout + 5*time.Millisecond)

	// clientes desistem no meio dos dois probes: nenhum resultado chega,
	// só a devolução do orçamento
	for i := 0; i < p.HalfOpenProbes; i++ {
		if dec := r.Allow("orders", p); !dec.Allowed {
			t.Fatalf("probe %d should be allowed", i+1)
		}
	}
	if dec := r.Allow("orders", p); dec.Allowed {
		t.Fatalf("budget exhausted, expected rejection before refunds")
	}
	for i := 0; i < p.HalfOpenProbes; i++ {
		r.Refund("orders")
	}

	// com o orçamento devolvido a rota ainda consegue se recuperar
	for i := 0; i < p.SuccessToClose; i++ {
		if dec := r.Allow("orders", p); !dec.Allowed {
			t.Fatalf("probe %d after refund should be allowed", i+1)
		}
		r.Record("orders", p, true, time.Millisecond)
	}
	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("expected recovery after refunded probes, got %s", got)
	}
}

func TestBreaker_RefundIsScopedToHalfOpen(t *testing.T) {
	r := NewBreakerRegistry()
	p := breakerPolicy()

	// fora de HALF_OPEN a devolução é no-op
	recordN(r, "orders", p, true, 1)
	r.Refund("orders")
	r.Refund("rota-desconhecida")
	if got := r.State("orders"); got != domain.StateClosed {
		t.Fatalf("refund in CLOSED must not change state, got %s", got)
	}

	// devoluções em excesso não criam orçamento extra
	recordN(r, "orders", p, false, 3)
	time.Sleep(p.ResetTimeout + 5*time.Millisecond)
	if dec := r.Allow("orders", p); !dec.Allowed {
		t.Fatalf("expected first probe")
	}
	r.Refund("orders")
	r.Refund("orders")
	r.Refund("orders")
	for i := 0; i < p.HalfOpenProbes; i++ {
		if dec := r.Allow("orders", p); !dec.Allowed {
			t.Fatalf("probe %d should be allowed", i+1)
		}
	}
	if dec := r.Allow("orders", p); dec.Allowed {
		t.Fatalf("over-refund must not grow the probe budget")
	}
}

func TestBreaker_UnknownRouteIsClosed(t *testing.T) {
	r := NewBreakerRegistry()
	if got := r.State("nunca-vista"); got != domain.StateClosed {
		t.Fatalf("expected CLOSED for unknown route, got %s", got)
	}
}

func TestBreaker_SweepKeepsOpenCircuits(t *testing.T) {
	r := NewBreakerRegistry(WithBreakerIdleTTL(time.Nanosecond))
	p := breakerPolicy()

	recordN(r, "doente", p, false, 3)
	recordN(r, "saudavel", p, true, 1)
	time.Sleep(time.Millisecond)

	if removed := r.Sweep(); removed != 1 {
		t.Fatalf("expected only the healthy route swept, removed %d", removed)
	}
	if got := r.State("doente"); got != domain.StateOpen {
		t.Fatalf("open circuit must survive sweep, got %s", got)
	}
}
