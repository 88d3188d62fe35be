// Package resilience fornece o adapter HTTP (net/http) da cadeia de proteção
// aplicada a cada request proxied: rate limit, bulkhead, circuit breaker,
// timeout e retry.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: composição do pipeline e controle de retry, sem net/http
//   - infra: implementações concretas (bucket no Redis, semáforo, breaker)
//   - resilience (este pacote): middleware HTTP + extração de chave + tradução
//     para status/headers/corpos de rejeição
//
// Fluxo no gateway, por request:
//
//  1. Extrai a chave do cliente (X-User-Id / X-API-Key / XFF / RemoteAddr)
//  2. Rate limit no store compartilhado (uma vez por request lógico)
//  3. Loop de tentativas: admissão no bulkhead → checagem do breaker →
//     chamada ao downstream com deadline → registro do resultado no breaker →
//     release do bulkhead → decisão de retry com backoff
//  4. Rejeições viram JSON com status 429/503/504; sucesso ganha headers
//     informativos (X-RateLimit-*, X-Circuit-State, X-Bulkhead-Concurrent)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o wiring,
// como LISTEN_ADDR, REDIS_ADDR e ROUTES_FILE; os limites em si vêm da
// RoutePolicy de cada rota.
package resilience
