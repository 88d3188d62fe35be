package domain

import (
	"context"
	"errors"
)

var (
	// ErrBulkheadFull indica capacidade esgotada sem fila configurada,
	// ou fila com espera esgotada sem vaga liberada a tempo.
	ErrBulkheadFull = errors.New("bulkhead at capacity")
	// ErrQueueFull indica que a própria fila de espera está cheia;
	// o request é rejeitado imediatamente, sem esperar.
	ErrQueueFull = errors.New("bulkhead queue full")
)

// Admission é uma foto da ocupação no momento da decisão (informativo,
// vai para headers/corpo de rejeição).
type Admission struct {
	Concurrent    int
	MaxConcurrent int
	Queued        int
	TotalAdmitted int64
	TotalRejected int64
}

// SlotPool é o bulkhead por rota: um recurso de capacidade finita.
//
// Admit bloqueia no máximo até o timeout de fila da política (ou até o ctx
// encerrar). Ao admitir, retorna uma função de release que pode ser chamada
// mais de uma vez mas só libera a vaga na primeira — todo caminho de saída
// (sucesso, erro, timeout, cancelamento) deve chamá-la.
type SlotPool interface {
	Admit(ctx context.Context, route string, p BulkheadPolicy) (release func(), info Admission, err error)
}
