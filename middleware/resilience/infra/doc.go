// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisLimiterStore: token bucket distribuído via script Lua no Redis
//   - MemoryLimiterStore: token bucket local usando golang.org/x/time/rate
//   - BulkheadRegistry: semáforo ponderado por rota com fila limitada
//   - BreakerRegistry: máquina de estados CLOSED/OPEN/HALF_OPEN por rota
package infra
