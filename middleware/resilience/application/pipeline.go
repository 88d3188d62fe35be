package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edge-gateway/middleware/resilience/domain"

	"github.com/sirupsen/logrus"
)

// ErrFilterPanic marca um panic capturado dentro da cadeia de filtros.
// Vira resposta 502 no adapter; uma rota com bug não derruba o gateway.
var ErrFilterPanic = errors.New("resilience filter panic")

// RequestInfo é o que o pipeline precisa saber de um request lógico.
// Método e token de idempotência alimentam o gate de retry; o resto é log.
type RequestInfo struct {
	Method         string
	Path           string
	ClientKey      string
	IdempotencyKey string
	RequestID      string
}

// Invoker é a chamada abstrata ao downstream. O contexto carrega o deadline
// da tentativa; a implementação deve respeitá-lo e retornar assim que ele
// encerrar (cancelamento cooperativo, não exceção atravessando stack).
type Invoker func(ctx context.Context) domain.Outcome

// RejectReason identifica qual filtro barrou o request antes do downstream.
type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonRateLimit
	ReasonLimiterUnavailable
	ReasonBulkheadFull
	ReasonQueueFull
	ReasonCircuitOpen
)

// Rejection descreve uma rejeição de admissão, com o contexto que o adapter
// precisa para montar o corpo/headers da resposta.
type Rejection struct {
	Reason  RejectReason
	Rate    domain.RateDecision
	Bulk    domain.Admission
	Breaker domain.BreakerDecision
}

// Result é o desfecho de um request lógico: ou uma rejeição de admissão, ou
// o resultado final do downstream (depois de todas as tentativas).
type Result struct {
	Reject   *Rejection
	Outcome  domain.Outcome
	Attempts int

	// Informativos para headers de observabilidade.
	Rate         domain.RateDecision
	Bulk         domain.Admission
	BreakerState domain.BreakerState
}

// Pipeline compõe a cadeia: rate limit → bulkhead → breaker → chamada com
// timeout, com o retry envolvendo o trecho bulkhead→chamada. Uma tentativa
// repetida passa de novo pela admissão do bulkhead e do breaker, nunca por
// cima deles.
type Pipeline struct {
	Limiter  domain.LimiterStore
	Bulkhead domain.SlotPool
	Breaker  domain.Breaker
	Retry    *RetryController
	Log      logrus.FieldLogger
}

func NewPipeline(limiter domain.LimiterStore, bulkhead domain.SlotPool, breaker domain.Breaker, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		Limiter:  limiter,
		Bulkhead: bulkhead,
		Breaker:  breaker,
		Retry:    NewRetryController(),
		Log:      log,
	}
}

// Do executa o request lógico inteiro. Panics dos filtros são capturados aqui,
// na borda do pipeline.
func (pl *Pipeline) Do(ctx context.Context, req RequestInfo, policy domain.RoutePolicy, invoke Invoker) (res Result) {
	attempts := 0
	defer func() {
		if rec := recover(); rec != nil {
			pl.Log.WithFields(logrus.Fields{
				"route":      policy.Name,
				"request_id": req.RequestID,
				"panic":      rec,
			}).Error("resilience pipeline panic recovered")
			res = Result{
				Outcome:  domain.Outcome{Err: fmt.Errorf("%w: %v", ErrFilterPanic, rec)},
				Attempts: attempts,
			}
		}
	}()

	// 1) rate limit: uma vez por request lógico, no store compartilhado
	rate := domain.RateDecision{Allowed: true, Remaining: -1}
	if pl.Limiter != nil {
		dec, err := pl.Limiter.Allow(ctx, policy.Name, req.ClientKey, policy.RateLimit)
		switch {
		case err != nil:
			pl.Log.WithFields(logrus.Fields{
				"route":      policy.Name,
				"client":     req.ClientKey,
				"fail_open":  policy.RateLimit.FailOpen,
				"request_id": req.RequestID,
			}).WithError(err).Warn("rate limiter store unavailable")
			if !policy.RateLimit.FailOpen {
				return Result{Reject: &Rejection{Reason: ReasonLimiterUnavailable}}
			}
			// fail-open: segue degradado, sem saldo para informar
		case !dec.Allowed:
			return Result{
				Reject: &Rejection{Reason: ReasonRateLimit, Rate: dec},
				Rate:   dec,
			}
		default:
			rate = dec
		}
	}

	// 2) loop de tentativas: bulkhead → breaker → chamada com deadline
	var (
		last     domain.Outcome
		lastBulk domain.Admission
	)
	for attempt := 1; ; attempt++ {
		attempts = attempt

		release, adm, err := pl.Bulkhead.Admit(ctx, policy.Name, policy.Bulkhead)
		if err != nil {
			reason := ReasonBulkheadFull
			switch {
			case errors.Is(err, domain.ErrQueueFull):
				reason = ReasonQueueFull
			case errors.Is(err, domain.ErrBulkheadFull):
				reason = ReasonBulkheadFull
			default:
				// cliente desistiu durante a espera na fila
				return Result{
					Outcome:  domain.Outcome{Err: err},
					Attempts: attempts,
					Rate:     rate,
				}
			}
			return Result{
				Reject:   &Rejection{Reason: reason, Bulk: adm},
				Attempts: attempts,
				Rate:     rate,
				Bulk:     adm,
			}
		}
		lastBulk = adm

		// a vaga volta em todo caminho de saída — sucesso, falha, timeout,
		// cancelamento e até panic do filtro — exatamente uma vez
		out, breakerRej := func() (out domain.Outcome, breakerRej *domain.BreakerDecision) {
			defer release()

			bd := pl.Breaker.Allow(policy.Name, policy.Breaker)
			if !bd.Allowed {
				return domain.Outcome{}, &bd
			}

			out = pl.invokeWithTimeout(ctx, policy.Timeout.PerAttempt, invoke)

			// resultado entra no breaker exatamente uma vez por tentativa que
			// chegou ao downstream; cancelamento do cliente não é culpa da
			// rota, mas um probe cancelado precisa ser devolvido ao orçamento
			// de HALF_OPEN, senão a rota fica presa sem transição possível
			if out.Classify() != domain.ClassCanceled {
				pl.Breaker.Record(policy.Name, policy.Breaker, out.Success(), out.Latency)
			} else if bd.State == domain.StateHalfOpen {
				pl.Breaker.Refund(policy.Name)
			}
			return out, nil
		}()

		if breakerRej != nil {
			return Result{
				Reject:       &Rejection{Reason: ReasonCircuitOpen, Breaker: *breakerRej},
				Attempts:     attempts,
				Rate:         rate,
				Bulk:         adm,
				BreakerState: breakerRej.State,
			}
		}
		last = out

		if out.Classify() == domain.ClassNone {
			break
		}
		if attempt >= policy.Retry.MaxAttempts {
			break
		}
		if !pl.Retry.ShouldRetry(req.Method, req.IdempotencyKey, out) {
			break
		}

		delay := pl.Retry.Delay(policy.Retry, attempt)
		pl.Log.WithFields(logrus.Fields{
			"route":      policy.Name,
			"request_id": req.RequestID,
			"attempt":    attempt,
			"max":        policy.Retry.MaxAttempts,
			"backoff":    delay.String(),
			"class":      out.Classify().String(),
			"status":     out.Status,
		}).Warn("retrying downstream call")
		if err := pl.Retry.Wait(ctx, delay); err != nil {
			break
		}
	}

	return Result{
		Outcome:      last,
		Attempts:     attempts,
		Rate:         rate,
		Bulk:         lastBulk,
		BreakerState: pl.Breaker.State(policy.Name),
	}
}

// invokeWithTimeout envolve a tentativa com o deadline por chamada. O ctx
// derivado chega até a borda do downstream; quando o deadline vence, a
// chamada em voo é cancelada e a vaga do bulkhead volta já — nunca depois
// da resposta atrasada chegar.
func (pl *Pipeline) invokeWithTimeout(ctx context.Context, timeout time.Duration, invoke Invoker) domain.Outcome {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out := invoke(tctx)
	out.Latency = time.Since(start)

	// garante a classificação de timeout mesmo que o transporte devolva
	// outro erro ao ser cancelado
	if out.Err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.Err = fmt.Errorf("downstream call exceeded %s: %w", timeout, context.DeadlineExceeded)
	}
	return out
}
