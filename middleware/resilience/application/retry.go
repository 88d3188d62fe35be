package application

import (
	"context"
	"math/rand"
	"time"

	"edge-gateway/middleware/resilience/domain"
)

// RetryController decide se uma tentativa falhada pode ser repetida e quanto
// esperar antes da próxima.
//
// Elegibilidade exige as DUAS condições:
//   - o verbo é idempotente por especificação, OU o cliente mandou
//     Idempotency-Key (sem token, POST de ordem jamais repete — ordem
//     duplicada é prejuízo financeiro, não inconveniência);
//   - a falha é transiente (timeout, erro de rede, status retryable).
//
// Circuito aberto nunca é repetido aqui: o cliente que tente depois do
// Retry-After informado.
type RetryController struct {
	// Sleep pode ser trocado nos testes; o default respeita o contexto.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryController() *RetryController {
	return &RetryController{Sleep: sleepCtx}
}

// ShouldRetry aplica o gate de idempotência + classificação da falha.
func (rc *RetryController) ShouldRetry(method, idempotencyKey string, out domain.Outcome) bool {
	if !domain.MethodRetryable(method, idempotencyKey) {
		return false
	}
	return out.RetryableFailure()
}

// Delay calcula o backoff da tentativa n (1-indexada):
// min(maxBackoff, base*2^(n-1)), perturbado por jitter uniforme em
// [1-j, 1+j] para tentativas concorrentes não baterem em sincronia.
func (rc *RetryController) Delay(p domain.RetryPolicy, attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff || d < 0 { // d<0 é overflow
			d = p.MaxBackoff
			break
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		factor := 1 + p.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Wait dorme o backoff ou desiste junto com o contexto.
func (rc *RetryController) Wait(ctx context.Context, d time.Duration) error {
	sleep := rc.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
