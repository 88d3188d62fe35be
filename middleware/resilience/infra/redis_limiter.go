package infra

import (
	"context"
	"fmt"
	"time"

	"edge-gateway/middleware/resilience/domain"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisLimiterStore é o token bucket distribuído: o ciclo inteiro
// ler-reabastecer-comparar-decrementar roda como UM script no Redis, então
// nenhum chamador (nem de outra instância do gateway) observa estado
// intermediário.
//
// A ida ao Redis é protegida por um breaker interno (sony/gobreaker): com o
// store fora do ar paramos de pagar o round-trip e devolvemos
// ErrLimiterUnavailable direto; quem decide entre fail-open e fail-closed é a
// política da rota, lá em cima.
type RedisLimiterStore struct {
	rdb    redis.Scripter
	prefix string
	cb     *gobreaker.CircuitBreaker
}

type RedisLimiterOption func(*RedisLimiterStore)

func WithKeyPrefix(prefix string) RedisLimiterOption {
	return func(s *RedisLimiterStore) { s.prefix = prefix }
}

func NewRedisLimiterStore(rdb redis.Scripter, opts ...RedisLimiterOption) *RedisLimiterStore {
	s := &RedisLimiterStore{
		rdb:    rdb,
		prefix: "ratelimit",
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow implementa domain.LimiterStore contra o store compartilhado.
func (s *RedisLimiterStore) Allow(ctx context.Context, route, clientKey string, p domain.RateLimitPolicy) (domain.RateDecision, error) {
	key := s.prefix + ":" + route + ":" + clientKey
	nowMs := time.Now().UnixMilli()
	ttlMs := p.TTL.Milliseconds()

	res, err := s.cb.Execute(func() (interface{}, error) {
		return tokenBucketScript.Run(ctx, s.rdb,
			[]string{key},
			p.Capacity, p.RefillRate, p.Cost, nowMs, ttlMs,
		).Result()
	})
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("%w: %v", domain.ErrLimiterUnavailable, err)
	}

	items, ok := res.([]interface{})
	if !ok || len(items) < 3 {
		return domain.RateDecision{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrLimiterUnavailable, res)
	}

	return domain.RateDecision{
		Allowed:    toInt64(items[0]) == 1,
		Remaining:  int(toInt64(items[1])),
		RetryAfter: time.Duration(toInt64(items[2])) * time.Second,
	}, nil
}

func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// retry_after sai em segundos inteiros (ceil(deficit/refill)), igual ao
// contrato do gateway: vira header Retry-After direto.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local tokens = tonumber(redis.call("HGET", key, "tokens"))
local last_ms = tonumber(redis.call("HGET", key, "last_ms"))

if tokens == nil then tokens = capacity end
if last_ms == nil then last_ms = now_ms end

if now_ms < last_ms then last_ms = now_ms end

tokens = math.min(capacity, tokens + (now_ms - last_ms) / 1000 * refill)

local allowed = 0
if tokens >= cost then
	allowed = 1
	tokens = tokens - cost
end

redis.call("HSET", key, "tokens", tokens, "last_ms", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

local retry_after = 0
if allowed == 0 then
	retry_after = math.ceil((cost - tokens) / refill)
end

return {allowed, math.floor(tokens), retry_after}
`)
