package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"edge-gateway/middleware/resilience/domain"
)

// BreakerRegistry mantém um circuit breaker por rota, criado sob demanda.
//
// As transições de estado são feitas só por compare-and-swap: quem ganha o CAS
// avança a máquina e zera contadores; quem perde relê o estado e refaz a
// própria checagem. Assim dois chamadores simultâneos nunca aplicam a mesma
// transição duas vezes.
type BreakerRegistry struct {
	mu         sync.RWMutex
	entries    map[string]*breakerEntry
	idleTTL    time.Duration
	sweepEvery time.Duration
}

type breakerEntry struct {
	state atomic.Int32

	consecFailures  atomic.Int32
	consecSuccesses atomic.Int32 // só usado em HALF_OPEN
	slowCalls       atomic.Int32
	probesUsed      atomic.Int32
	lastFailure     atomic.Int64 // unix nanos
	lastAccess      atomic.Int64

	window *outcomeWindow
}

type BreakerRegistryOption func(*BreakerRegistry)

func WithBreakerIdleTTL(d time.Duration) BreakerRegistryOption {
	return func(r *BreakerRegistry) { r.idleTTL = d }
}

func WithBreakerSweepEvery(d time.Duration) BreakerRegistryOption {
	return func(r *BreakerRegistry) { r.sweepEvery = d }
}

func NewBreakerRegistry(opts ...BreakerRegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		entries:    make(map[string]*breakerEntry),
		idleTTL:    time.Hour,
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *BreakerRegistry) get(route string, p domain.BreakerPolicy) *breakerEntry {
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
	ent = &breakerEntry{window: newOutcomeWindow(p.SlidingWindowSize)}
	ent.state.Store(int32(domain.StateClosed))
	ent.lastAccess.Store(time.Now().UnixNano())
	r.entries[route] = ent
	return ent
}

// Allow implementa a checagem de admissão de domain.Breaker.
func (r *BreakerRegistry) Allow(route string, p domain.BreakerPolicy) domain.BreakerDecision {
	ent := r.get(route, p)
	ent.lastAccess.Store(time.Now().UnixNano())

	for {
		state := domain.BreakerState(ent.state.Load())
		switch state {
		case domain.StateClosed:
			return domain.BreakerDecision{Allowed: true, State: state}

		case domain.StateOpen:
			elapsed := time.Since(time.Unix(0, ent.lastFailure.Load()))
			if elapsed < p.ResetTimeout {
				return domain.BreakerDecision{
					Allowed:    false,
					State:      state,
					Failures:   int(ent.consecFailures.Load()),
					RetryAfter: p.ResetTimeout - elapsed,
				}
			}
			// reset venceu: o vencedor do CAS vira HALF_OPEN e zera os
			// contadores de probe; perdedores releem e disputam um probe
			if ent.state.CompareAndSwap(int32(domain.StateOpen), int32(domain.StateHalfOpen)) {
				ent.consecSuccesses.Store(0)
				ent.probesUsed.Store(0)
			}

		case domain.StateHalfOpen:
			for {
				used := ent.probesUsed.Load()
				if used >= int32(p.HalfOpenProbes) {
					return domain.BreakerDecision{
						Allowed:    false,
						State:      state,
						Failures:   int(ent.consecFailures.Load()),
						RetryAfter: p.ResetTimeout,
					}
				}
				if ent.probesUsed.CompareAndSwap(used, used+1) {
					return domain.BreakerDecision{Allowed: true, State: state}
				}
				if domain.BreakerState(ent.state.Load()) != domain.StateHalfOpen {
					break // estado mudou no meio; volta para o loop externo
				}
			}

		default:
			return domain.BreakerDecision{Allowed: true, State: state}
		}
	}
}

// Record alimenta o resultado de uma tentativa que chegou ao downstream.
//
// Sucesso lento entra na janela como falha (latência acima do limiar conta
// contra a taxa), mas não zera nem incrementa contadores de falha consecutiva.
func (r *BreakerRegistry) Record(route string, p domain.BreakerPolicy, success bool, latency time.Duration) {
	ent := r.get(route, p)
	ent.lastAccess.Store(time.Now().UnixNano())

	if success {
		ent.window.add(latency < p.SlowCallThreshold)
		switch domain.BreakerState(ent.state.Load()) {
		case domain.StateHalfOpen:
			if ent.consecSuccesses.Add(1) >= int32(p.SuccessToClose) {
				if ent.state.CompareAndSwap(int32(domain.StateHalfOpen), int32(domain.StateClosed)) {
					ent.consecFailures.Store(0)
					ent.consecSuccesses.Store(0)
					ent.slowCalls.Store(0)
					ent.window.clear()
				}
			}
		case domain.StateClosed:
			ent.consecFailures.Store(0)
		}
		return
	}

	ent.window.add(false)
	ent.lastFailure.Store(time.Now().UnixNano())

	switch domain.BreakerState(ent.state.Load()) {
	case domain.StateHalfOpen:
		// uma única falha no probe devolve para OPEN
		if ent.state.CompareAndSwap(int32(domain.StateHalfOpen), int32(domain.StateOpen)) {
			ent.consecFailures.Store(0)
			ent.consecSuccesses.Store(0)
		}
	case domain.StateClosed:
		failures := ent.consecFailures.Add(1)
		if latency >= p.SlowCallThreshold {
			ent.slowCalls.Add(1)
		}
		rate := ent.window.failureRate()
		if (failures >= int32(p.FailureThreshold) && rate >= p.FailureRateThreshold) ||
			ent.slowCalls.Load() >= int32(p.FailureThreshold) {
			ent.state.CompareAndSwap(int32(domain.StateClosed), int32(domain.StateOpen))
		}
	}
}

// Refund devolve um probe admitido em HALF_OPEN cujo resultado não vai chegar
// (o cliente cancelou a tentativa). O CAS não desce abaixo de zero, e fora de
// HALF_OPEN a devolução é um no-op: se o estado mudou no meio (outro probe
// falhou e reabriu), o orçamento novo já nasce zerado.
func (r *BreakerRegistry) Refund(route string) {
	r.mu.RLock()
	ent, ok := r.entries[route]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if domain.BreakerState(ent.state.Load()) != domain.StateHalfOpen {
		return
	}
	for {
		used := ent.probesUsed.Load()
		if used <= 0 {
			return
		}
		if ent.probesUsed.CompareAndSwap(used, used-1) {
			return
		}
	}
}

// State implementa domain.Breaker (rota sem registro é CLOSED).
func (r *BreakerRegistry) State(route string) domain.BreakerState {
	r.mu.RLock()
	ent, ok := r.entries[route]
	r.mu.RUnlock()
	if !ok {
		return domain.StateClosed
	}
	return domain.BreakerState(ent.state.Load())
}

// Sweep remove breakers de rotas ociosas. Breaker aberto não é removido:
// remover significaria esquecer que a rota está doente.
func (r *BreakerRegistry) Sweep() int {
	cutoff := time.Now().Add(-r.idleTTL).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for route, ent := range r.entries {
		if ent.lastAccess.Load() < cutoff &&
			domain.BreakerState(ent.state.Load()) == domain.StateClosed {
			delete(r.entries, route)
			removed++
		}
	}
	return removed
}

// StartJanitor varre periodicamente até o contexto encerrar.
func (r *BreakerRegistry) StartJanitor(ctx DoneContext) {
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

// outcomeWindow é a janela circular de resultados (true=sucesso) usada para a
// taxa de falha. Mutex simples: a janela é pequena e o custo é irrelevante
// perto do round-trip do request.
type outcomeWindow struct {
	mu   sync.Mutex
	buf  []bool
	next int
	size int
}

func newOutcomeWindow(capacity int) *outcomeWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &outcomeWindow{buf: make([]bool, capacity)}
}

func (w *outcomeWindow) add(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[w.next] = success
	w.next = (w.next + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

func (w *outcomeWindow) failureRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < w.size; i++ {
		if !w.buf[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.size)
}

func (w *outcomeWindow) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.buf {
		w.buf[i] = false
	}
	w.next = 0
	w.size = 0
}
