package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"edge-gateway/middleware/resilience/domain"

	"golang.org/x/time/rate"
)

// MemoryLimiterStore é um token bucket local (x/time/rate) com cache por chave
// e limpeza periódica. Serve de fallback quando não há Redis configurado e
// para testes; NÃO dá a garantia multi-instância do store compartilhado.
type MemoryLimiterStore struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type MemoryLimiterOption func(*MemoryLimiterStore)

func WithIdleTTL(d time.Duration) MemoryLimiterOption {
	return func(s *MemoryLimiterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryLimiterOption {
	return func(s *MemoryLimiterStore) { s.cleanupEvery = d }
}

func NewMemoryLimiterStore(opts ...MemoryLimiterOption) *MemoryLimiterStore {
	s := &MemoryLimiterStore{
		entries:      make(map[string]*memoryEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow implementa domain.LimiterStore.
//
// O bucket de cada `route:client` nasce cheio na primeira visita, com os
// parâmetros da política da rota (imutável, então não há corrida de config).
func (s *MemoryLimiterStore) Allow(_ context.Context, route, clientKey string, p domain.RateLimitPolicy) (domain.RateDecision, error) {
	lim := s.get(route+":"+clientKey, p)

	if lim.AllowN(time.Now(), p.Cost) {
		return domain.RateDecision{
			Allowed:   true,
			Remaining: int(math.Floor(math.Max(0, lim.Tokens()))),
		}, nil
	}

	// deficit / taxa de refil, arredondado para cima (mesma conta do script Lua)
	deficit := float64(p.Cost) - lim.Tokens()
	if deficit < 0 {
		deficit = 0
	}
	retryAfter := time.Duration(math.Ceil(deficit/p.RefillRate)) * time.Second
	return domain.RateDecision{
		Allowed:    false,
		Remaining:  int(math.Floor(math.Max(0, lim.Tokens()))),
		RetryAfter: retryAfter,
	}, nil
}

func (s *MemoryLimiterStore) get(key string, p domain.RateLimitPolicy) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(rate.Limit(p.RefillRate), p.Capacity)
	s.entries[key] = &memoryEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *MemoryLimiterStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryLimiterStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo que os janitors precisam de um context.Context.
// (Qualquer coisa com Done() serve, inclusive dublês de teste.)
type DoneContext interface {
	Done() <-chan struct{}
}
