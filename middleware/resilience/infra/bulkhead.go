package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"edge-gateway/middleware/resilience/domain"

	"golang.org/x/sync/semaphore"
)

// BulkheadRegistry mantém um bulkhead por rota, criado sob demanda e removido
// por um janitor quando a rota fica ociosa (mesmo padrão do limiter em memória).
//
// A vaga em si é um semaphore.Weighted: TryAcquire cobre a admissão imediata e
// Acquire com deadline cobre a fila de espera — FIFO, acordado direto no
// release, sem polling. Os contadores atômicos ao lado existem para
// observabilidade (headers/corpo de rejeição) e para o gate de capacidade da
// fila; a exclusão mútua da vaga é sempre do semáforo.
type BulkheadRegistry struct {
	mu         sync.RWMutex
	entries    map[string]*bulkheadEntry
	idleTTL    time.Duration
	sweepEvery time.Duration
}

type bulkheadEntry struct {
	sem *semaphore.Weighted
	max int64

	current       atomic.Int64
	queued        atomic.Int64
	totalAdmitted atomic.Int64
	totalRejected atomic.Int64
	lastAccess    atomic.Int64 // unix nanos
}

type BulkheadOption func(*BulkheadRegistry)

func WithBulkheadIdleTTL(d time.Duration) BulkheadOption {
	return func(r *BulkheadRegistry) { r.idleTTL = d }
}

func WithBulkheadSweepEvery(d time.Duration) BulkheadOption {
	return func(r *BulkheadRegistry) { r.sweepEvery = d }
}

func NewBulkheadRegistry(opts ...BulkheadOption) *BulkheadRegistry {
	r := &BulkheadRegistry{
		entries:    make(map[string]*bulkheadEntry),
		idleTTL:    time.Hour,
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *BulkheadRegistry) get(route string, p domain.BulkheadPolicy) *bulkheadEntry {
	r.mu.RLock()
	ent, ok := r.entries[route]
	r.mu.RUnlock()
	if ok {
		return ent
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.entries[route]; ok {
		return ent
	}
	ent = &bulkheadEntry{
		sem: semaphore.NewWeighted(int64(p.MaxConcurrent)),
		max: int64(p.MaxConcurrent),
	}
	ent.lastAccess.Store(time.Now().UnixNano())
	r.entries[route] = ent
	return ent
}

// Admit implementa domain.SlotPool.
//
// O release devolvido é idempotente (sync.Once): chamar em todo caminho de
// saída é obrigatório, chamar duas vezes é inofensivo.
func (r *BulkheadRegistry) Admit(ctx context.Context, route string, p domain.BulkheadPolicy) (func(), domain.Admission, error) {
	ent := r.get(route, p)
	ent.lastAccess.Store(time.Now().UnixNano())

	if ent.sem.TryAcquire(1) {
		return r.admitted(ent), ent.snapshot(), nil
	}

	if p.QueueCapacity <= 0 {
		ent.totalRejected.Add(1)
		return nil, ent.snapshot(), domain.ErrBulkheadFull
	}

	// gate da fila: incrementa primeiro e desfaz se estourou, para dois
	// chamadores simultâneos não passarem ambos por um mesmo "tem espaço"
	if n := ent.queued.Add(1); n > int64(p.QueueCapacity) {
		ent.queued.Add(-1)
		ent.totalRejected.Add(1)
		return nil, ent.snapshot(), domain.ErrQueueFull
	}
	defer ent.queued.Add(-1)

	waitCtx, cancel := context.WithTimeout(ctx, p.QueueWait)
	defer cancel()

	if err := ent.sem.Acquire(waitCtx, 1); err != nil {
		ent.totalRejected.Add(1)
		if ctx.Err() != nil {
			// o próprio cliente desistiu; não é rejeição de capacidade
			return nil, ent.snapshot(), ctx.Err()
		}
		return nil, ent.snapshot(), domain.ErrBulkheadFull
	}
	return r.admitted(ent), ent.snapshot(), nil
}

func (r *BulkheadRegistry) admitted(ent *bulkheadEntry) func() {
	ent.current.Add(1)
	ent.totalAdmitted.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			ent.current.Add(-1)
			ent.lastAccess.Store(time.Now().UnixNano())
			ent.sem.Release(1)
		})
	}
}

func (ent *bulkheadEntry) snapshot() domain.Admission {
	return domain.Admission{
		Concurrent:    int(ent.current.Load()),
		MaxConcurrent: int(ent.max),
		Queued:        int(ent.queued.Load()),
		TotalAdmitted: ent.totalAdmitted.Load(),
		TotalRejected: ent.totalRejected.Load(),
	}
}

// Snapshot expõe a ocupação atual de uma rota (para headers informativos).
func (r *BulkheadRegistry) Snapshot(route string) (domain.Admission, bool) {
	r.mu.RLock()
	ent, ok := r.entries[route]
	r.mu.RUnlock()
	if !ok {
		return domain.Admission{}, false
	}
	return ent.snapshot(), true
}

// Sweep remove bulkheads ociosos (sem tráfego além do idleTTL e sem vaga em
// uso) para a memória não crescer com rotas que pararam de receber tráfego.
func (r *BulkheadRegistry) Sweep() int {
	cutoff := time.Now().Add(-r.idleTTL).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for route, ent := range r.entries {
		if ent.lastAccess.Load() < cutoff && ent.current.Load() == 0 && ent.queued.Load() == 0 {
			delete(r.entries, route)
			removed++
		}
	}
	return removed
}

// StartJanitor varre periodicamente até o contexto encerrar.
func (r *BulkheadRegistry) StartJanitor(ctx DoneContext) {
	if r.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(r.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Sweep()
			}
		}
	}()
}
