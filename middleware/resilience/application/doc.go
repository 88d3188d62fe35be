// Package application contém os casos de uso da cadeia de resiliência:
// composição do pipeline (rate limit → bulkhead → breaker → chamada com
// timeout) e o controle de retry com backoff exponencial.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Pipeline.Do(ctx, req, policy, invoke) retorna um Result (resposta ou rejeição).
package application
