package domain

// Classificação de resultado de uma tentativa contra o downstream.
//
// A taxonomia alimenta duas decisões independentes: o que o breaker conta como
// falha, e o que o retry pode repetir. Num gateway de trading a parte crítica
// é nunca repetir uma operação não idempotente sem token — ordem duplicada é
// prejuízo real, não bug cosmético.

import (
	"context"
	"errors"
	"net"
	"time"
)

// FailureClass é a classe da falha observada em uma tentativa.
type FailureClass int

const (
	ClassNone FailureClass = iota
	// ClassTimeout: o deadline da tentativa venceu antes do downstream responder.
	ClassTimeout
	// ClassNetwork: erro de conexão/transporte antes de obter status.
	ClassNetwork
	// ClassStatus: resposta recebida com status de erro.
	ClassStatus
	// ClassCanceled: o próprio cliente desistiu (ctx cancelado upstream).
	ClassCanceled
	// ClassCircuitOpen: rejeição local do breaker, sem chamada ao downstream.
	ClassCircuitOpen
)

func (c FailureClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTimeout:
		return "timeout"
	case ClassNetwork:
		return "network"
	case ClassStatus:
		return "status"
	case ClassCanceled:
		return "canceled"
	case ClassCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Outcome é o resultado de uma tentativa: status OU erro, mais a latência.
type Outcome struct {
	Status  int
	Err     error
	Latency time.Duration
}

// Classify deriva a classe de falha de um Outcome.
func (o Outcome) Classify() FailureClass {
	if o.Err != nil {
		switch {
		case errors.Is(o.Err, ErrCircuitOpen):
			return ClassCircuitOpen
		case errors.Is(o.Err, context.DeadlineExceeded):
			return ClassTimeout
		case errors.Is(o.Err, context.Canceled):
			return ClassCanceled
		default:
			var netErr net.Error
			if errors.As(o.Err, &netErr) && netErr.Timeout() {
				return ClassTimeout
			}
			return ClassNetwork
		}
	}
	if o.Status >= 400 {
		return ClassStatus
	}
	return ClassNone
}

// Success é o que o breaker considera sucesso: resposta sem erro e sem 5xx.
// Erro de cliente (4xx) não é culpa do downstream, então não abre circuito.
func (o Outcome) Success() bool {
	return o.Err == nil && o.Status < 500
}

// retryableStatuses: falhas transientes que valem nova tentativa.
var retryableStatuses = map[int]bool{
	408: true, // request timeout
	429: true, // too many requests
	500: true,
	502: true,
	503: true,
	504: true,
}

// nonRetryableStatuses: erros do cliente (e 501) — repetir não muda nada.
var nonRetryableStatuses = map[int]bool{
	400: true,
	401: true,
	402: true,
	403: true,
	404: true,
	405: true,
	409: true, // conflito (recurso duplicado)
	410: true,
	412: true,
	422: true,
	501: true,
}

// RetryableFailure diz se a FALHA é transiente o suficiente para retry.
// Circuito aberto fica de fora de propósito: esperar backoff contra um
// circuito que só vai abrir de novo desperdiça a janela de reset.
func (o Outcome) RetryableFailure() bool {
	switch o.Classify() {
	case ClassTimeout, ClassNetwork:
		return true
	case ClassStatus:
		if nonRetryableStatuses[o.Status] {
			return false
		}
		return retryableStatuses[o.Status]
	default:
		return false
	}
}

// idempotentMethods: verbos seguros de repetir por definição.
var idempotentMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"OPTIONS": true,
	"TRACE":   true,
	"PUT":     true,
	"DELETE":  true,
}

// MethodRetryable diz se o VERBO permite retry: ou é idempotente por
// especificação, ou o cliente mandou um token de idempotência que deixa o
// receptor deduplicar (caso do POST de criação de ordem).
func MethodRetryable(method, idempotencyKey string) bool {
	if idempotentMethods[method] {
		return true
	}
	return idempotencyKey != ""
}
