package domain

import (
	"errors"
	"fmt"
	"time"
)

// RoutePolicy agrupa todos os limites de proteção de uma rota.
//
// É carregada uma vez no startup e nunca mutada depois; os registros de
// runtime (bulkhead, breaker) guardam apenas referência de leitura.
type RoutePolicy struct {
	Name    string `yaml:"name"`
	Prefix  string `yaml:"prefix"`
	Service string `yaml:"service"`

	RateLimit RateLimitPolicy `yaml:"rateLimit"`
	Bulkhead  BulkheadPolicy  `yaml:"bulkhead"`
	Breaker   BreakerPolicy   `yaml:"breaker"`
	Timeout   TimeoutPolicy   `yaml:"timeout"`
	Retry     RetryPolicy     `yaml:"retry"`
}

type RateLimitPolicy struct {
	Capacity   int     `yaml:"capacity"`
	RefillRate float64 `yaml:"refillRate"`
	Cost       int     `yaml:"cost"`
	// TTL da chave no store; cliente ocioso expira sozinho.
	TTL time.Duration `yaml:"ttl"`
	// FailOpen controla o comportamento quando o store está fora:
	// true deixa passar (degradado), false rejeita com "limiter unavailable".
	FailOpen bool `yaml:"failOpen"`
}

type BulkheadPolicy struct {
	MaxConcurrent int           `yaml:"maxConcurrent"`
	QueueCapacity int           `yaml:"queueCapacity"`
	QueueWait     time.Duration `yaml:"queueWait"`
}

type BreakerPolicy struct {
	FailureThreshold     int           `yaml:"failureThreshold"`
	FailureRateThreshold float64       `yaml:"failureRateThreshold"`
	SlowCallThreshold    time.Duration `yaml:"slowCallThreshold"`
	ResetTimeout         time.Duration `yaml:"resetTimeout"`
	HalfOpenProbes       int           `yaml:"halfOpenProbes"`
	SuccessToClose       int           `yaml:"successToClose"`
	SlidingWindowSize    int           `yaml:"slidingWindowSize"`
}

type TimeoutPolicy struct {
	PerAttempt time.Duration `yaml:"perAttempt"`
}

type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
	// Jitter é a fração de perturbação aleatória do backoff, em [0,1].
	Jitter float64 `yaml:"jitter"`
}

// Normalize preenche defaults nos campos zerados.
// Os valores seguem os defaults do gateway original.
func (p *RoutePolicy) Normalize() {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.Service == "" {
		p.Service = p.Name
	}
	if p.RateLimit.Capacity <= 0 {
		p.RateLimit.Capacity = 100
	}
	if p.RateLimit.RefillRate <= 0 {
		p.RateLimit.RefillRate = 1.66
	}
	if p.RateLimit.Cost <= 0 {
		p.RateLimit.Cost = 1
	}
	if p.RateLimit.TTL <= 0 {
		p.RateLimit.TTL = time.Hour
	}
	if p.Bulkhead.MaxConcurrent <= 0 {
		p.Bulkhead.MaxConcurrent = 50
	}
	if p.Bulkhead.QueueWait <= 0 {
		p.Bulkhead.QueueWait = 2 * time.Second
	}
	if p.Breaker.FailureThreshold <= 0 {
		p.Breaker.FailureThreshold = 5
	}
	if p.Breaker.FailureRateThreshold <= 0 {
		p.Breaker.FailureRateThreshold = 0.5
	}
	if p.Breaker.SlowCallThreshold <= 0 {
		p.Breaker.SlowCallThreshold = 200 * time.Millisecond
	}
	if p.Breaker.ResetTimeout <= 0 {
		p.Breaker.ResetTimeout = 30 * time.Second
	}
	if p.Breaker.HalfOpenProbes <= 0 {
		p.Breaker.HalfOpenProbes = 3
	}
	if p.Breaker.SuccessToClose <= 0 {
		p.Breaker.SuccessToClose = 2
	}
	if p.Breaker.SlidingWindowSize <= 0 {
		p.Breaker.SlidingWindowSize = 20
	}
	if p.Timeout.PerAttempt <= 0 {
		p.Timeout.PerAttempt = 5 * time.Second
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.BaseBackoff <= 0 {
		p.Retry.BaseBackoff = 500 * time.Millisecond
	}
	if p.Retry.MaxBackoff <= 0 {
		p.Retry.MaxBackoff = 5 * time.Second
	}
	if p.Retry.Jitter == 0 {
		p.Retry.Jitter = 0.5
	}
}

// Validate rejeita políticas sem sentido. Chamar depois de Normalize.
func (p *RoutePolicy) Validate() error {
	if p.Name == "" {
		return errors.New("route policy: name is required")
	}
	if p.Retry.Jitter < 0 || p.Retry.Jitter > 1 {
		return fmt.Errorf("route %q: retry.jitter must be in [0,1], got %v", p.Name, p.Retry.Jitter)
	}
	if p.Breaker.FailureRateThreshold > 1 {
		return fmt.Errorf("route %q: breaker.failureRateThreshold must be <= 1, got %v", p.Name, p.Breaker.FailureRateThreshold)
	}
	if p.Breaker.SuccessToClose > p.Breaker.HalfOpenProbes {
		// mais sucessos exigidos do que probes disponíveis: o orçamento de
		// HALF_OPEN esgota antes de fechar e a rota trava
		return fmt.Errorf("route %q: breaker.successToClose (%d) > breaker.halfOpenProbes (%d)",
			p.Name, p.Breaker.SuccessToClose, p.Breaker.HalfOpenProbes)
	}
	if p.Retry.MaxBackoff < p.Retry.BaseBackoff {
		return fmt.Errorf("route %q: retry.maxBackoff < retry.baseBackoff", p.Name)
	}
	if p.Bulkhead.QueueCapacity < 0 {
		return fmt.Errorf("route %q: bulkhead.queueCapacity must be >= 0", p.Name)
	}
	return nil
}
