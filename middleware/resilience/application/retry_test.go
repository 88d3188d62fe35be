package application

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"edge-gateway/middleware/resilience/domain"
)

func TestShouldRetry_IdempotencyGate(t *testing.T) {
	rc := NewRetryController()
	transient := domain.Outcome{Status: http.StatusServiceUnavailable}

	cases := []struct {
		name   string
		method string
		token  string
		out    domain.Outcome
		want   bool
	}{
		{"get com 503 repete", http.MethodGet, "", transient, true},
		{"put com 503 repete", http.MethodPut, "", transient, true},
		{"delete com 503 repete", http.MethodDelete, "", transient, true},
		{"post sem token nunca repete", http.MethodPost, "", transient, false},
		{"post com token repete", http.MethodPost, "idem-abc", transient, true},
		{"patch sem token nunca repete", http.MethodPatch, "", transient, false},
		{"get com 400 nao repete", http.MethodGet, "", domain.Outcome{Status: http.StatusBadRequest}, false},
		{"get com 409 nao repete", http.MethodGet, "", domain.Outcome{Status: http.StatusConflict}, false},
		{"get com 501 nao repete", http.MethodGet, "", domain.Outcome{Status: http.StatusNotImplemented}, false},
		{"get com 429 repete", http.MethodGet, "", domain.Outcome{Status: http.StatusTooManyRequests}, true},
		{"erro de rede repete", http.MethodGet, "", domain.Outcome{Err: errors.New("connection reset")}, true},
		{"timeout repete", http.MethodGet, "", domain.Outcome{Err: context.DeadlineExceeded}, true},
		{"circuito aberto nao repete", http.MethodGet, "", domain.Outcome{Err: domain.ErrCircuitOpen}, false},
		{"cancelamento do cliente nao repete", http.MethodGet, "", domain.Outcome{Err: context.Canceled}, false},
		{"sucesso nao repete", http.MethodGet, "", domain.Outcome{Status: http.StatusOK}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rc.ShouldRetry(tc.method, tc.token, tc.out); got != tc.want {
				t.Fatalf("ShouldRetry(%s, %q, %+v) = %v, want %v", tc.method, tc.token, tc.out, got, tc.want)
			}
		})
	}
}

func TestDelay_ExponentialWithinJitterBounds(t *testing.T) {
	rc := NewRetryController()
	p := domain.RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  400 * time.Millisecond,
		Jitter:      0.5,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		base := p.BaseBackoff << (attempt - 1)
		if base > p.MaxBackoff {
			base = p.MaxBackoff
		}
		lo := time.Duration(float64(base) * (1 - p.Jitter))
		hi := time.Duration(float64(base) * (1 + p.Jitter))

		// jitter é aleatório; algumas amostras bastam para pegar um bound errado
		for i := 0; i < 50; i++ {
			d := rc.Delay(p, attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDelay_NoJitterIsDeterministic(t *testing.T) {
	rc := NewRetryController()
	p := domain.RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capado
		time.Second,
	}
	for i, w := range want {
		if got := rc.Delay(p, i+1); got != w {
			t.Fatalf("attempt %d: got %s, want %s", i+1, got, w)
		}
	}
}

func TestDelay_HugeAttemptDoesNotOverflow(t *testing.T) {
	rc := NewRetryController()
	p := domain.RetryPolicy{BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}

	if got := rc.Delay(p, 200); got != 30*time.Second {
		t.Fatalf("expected cap at maxBackoff, got %s", got)
	}
}

func TestWait_StopsOnContextCancel(t *testing.T) {
	rc := NewRetryController()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := rc.Wait(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wait did not stop with the context")
	}
}
