package domain

import (
	"errors"
	"time"
)

// ErrCircuitOpen sinaliza rejeição rápida com o circuito aberto.
// O retry NÃO deve tentar de novo em cima desse erro (desperdiça a janela
// de reset), por isso ele tem identidade própria em vez de ser um status.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState é o estado da máquina CLOSED/OPEN/HALF_OPEN.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerDecision é o resultado de uma checagem de admissão no breaker.
type BreakerDecision struct {
	Allowed  bool
	State    BreakerState
	Failures int
	// RetryAfter é o tempo restante até o próximo probe quando aberto.
	RetryAfter time.Duration
}

// Breaker rastreia falhas/latência por rota e corta chamadas para rotas doentes.
//
// Allow decide a admissão (e faz OPEN→HALF_OPEN quando o reset venceu).
// Record alimenta o resultado de UMA tentativa que chegou ao downstream;
// rejeições de admissão (rate limit, bulkhead, circuito aberto) nunca entram
// aqui, senão rejeição gera mais rejeição.
// Refund devolve um probe de HALF_OPEN cujo resultado nunca vai chegar
// (cliente cancelou no meio): sem a devolução, probes cancelados esgotariam o
// orçamento e prenderiam a rota em HALF_OPEN para sempre.
type Breaker interface {
	Allow(route string, p BreakerPolicy) BreakerDecision
	Record(route string, p BreakerPolicy, success bool, latency time.Duration)
	Refund(route string)
	State(route string) BreakerState
}
