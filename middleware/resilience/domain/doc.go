// Package domain define contratos e tipos de domínio da cadeia de resiliência:
// rate limit, bulkhead, circuit breaker, timeout e retry.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras de
// proteção de detalhes de infraestrutura (Redis, semáforos, etc).
package domain
