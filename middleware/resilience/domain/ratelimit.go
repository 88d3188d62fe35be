package domain

// Camada de domínio do rate limit distribuído.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http nem de Redis.

import (
	"context"
	"errors"
	"time"
)

// ErrLimiterUnavailable indica que o store compartilhado não respondeu.
// O chamador decide o destino do request pela política FailOpen da rota.
var ErrLimiterUnavailable = errors.New("rate limiter store unavailable")

// RateDecision é o resultado de uma checagem de rate limit.
type RateDecision struct {
	Allowed bool
	// Remaining é o saldo de tokens depois da checagem (informativo).
	Remaining int
	// RetryAfter estima quando vai haver saldo para o custo pedido.
	// Só é preenchido quando Allowed=false.
	RetryAfter time.Duration
}

// LimiterStore decide se um request consome tokens do bucket `route:client`.
//
// A sequência ler-reabastecer-comparar-decrementar precisa ser atômica de ponta
// a ponta, inclusive entre processos que compartilham a mesma chave. Por isso a
// implementação de referência roda um script no Redis; get/set simples não serve.
type LimiterStore interface {
	Allow(ctx context.Context, route, clientKey string, p RateLimitPolicy) (RateDecision, error)
}
