package resilience

// Tradução das rejeições do pipeline para o contrato HTTP do gateway:
// status + corpo JSON + headers que o cliente usa para se auto-regular.

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"edge-gateway/middleware/resilience/application"
	"edge-gateway/middleware/resilience/domain"
)

type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Limit      int    `json:"limit"`
	RetryAfter int    `json:"retryAfter"`
}

type bulkheadBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Bulkhead      string `json:"bulkhead"`
	Reason        string `json:"reason"`
	Concurrent    int    `json:"concurrent"`
	MaxConcurrent int    `json:"maxConcurrent"`
	TotalRejected int64  `json:"totalRejected"`
}

type circuitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Circuit    string `json:"circuit"`
	State      string `json:"state"`
	Failures   int    `json:"failures"`
	RetryAfter int    `json:"retryAfter"`
}

type timeoutBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Service string `json:"service"`
	Timeout int64  `json:"timeout"`
}

type upstreamBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Route   string `json:"route,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ceilSeconds arredonda para cima: anunciar "tente em 0s" para uma espera de
// 300ms só gera outra rejeição.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeRejection(w http.ResponseWriter, policy domain.RoutePolicy, res application.Result) {
	rej := res.Reject
	switch rej.Reason {
	case application.ReasonRateLimit:
		retryAfter := ceilSeconds(rej.Rate.RetryAfter)
		w.Header().Set("Retry-After", formatInt(retryAfter))
		w.Header().Set("X-RateLimit-Limit", formatInt(policy.RateLimit.Capacity))
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
			Error:      "RATE_LIMIT_EXCEEDED",
			Message:    "Too many requests",
			Limit:      policy.RateLimit.Capacity,
			RetryAfter: retryAfter,
		})

	case application.ReasonLimiterUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, upstreamBody{
			Error:   "RATE_LIMITER_UNAVAILABLE",
			Message: "Rate limiter store unavailable and route is fail-closed",
		})

	case application.ReasonBulkheadFull, application.ReasonQueueFull:
		reason := "CAPACITY_EXCEEDED"
		if rej.Reason == application.ReasonQueueFull {
			reason = "QUEUE_FULL"
		}
		w.Header().Set("X-Bulkhead-Name", policy.Name)
		w.Header().Set("X-Bulkhead-Reason", reason)
		writeJSON(w, http.StatusTooManyRequests, bulkheadBody{
			Error:         "BULKHEAD_REJECTED",
			Message:       "Service capacity exceeded",
			Bulkhead:      policy.Name,
			Reason:        reason,
			Concurrent:    rej.Bulk.Concurrent,
			MaxConcurrent: rej.Bulk.MaxConcurrent,
			TotalRejected: rej.Bulk.TotalRejected,
		})

	case application.ReasonCircuitOpen:
		retryAfter := ceilSeconds(rej.Breaker.RetryAfter)
		w.Header().Set("Retry-After", formatInt(retryAfter))
		w.Header().Set("X-Circuit-Name", policy.Name)
		w.Header().Set("X-Circuit-State", rej.Breaker.State.String())
		writeJSON(w, http.StatusServiceUnavailable, circuitBody{
			Error:      "SERVICE_UNAVAILABLE",
			Message:    "Circuit breaker is OPEN. Service temporarily unavailable.",
			Circuit:    policy.Name,
			State:      rej.Breaker.State.String(),
			Failures:   rej.Breaker.Failures,
			RetryAfter: retryAfter,
		})
	}
}

func writeTimeout(w http.ResponseWriter, policy domain.RoutePolicy) {
	w.Header().Set("X-Timeout-Service", policy.Service)
	w.Header().Set("X-Timeout-Duration", formatInt64(policy.Timeout.PerAttempt.Milliseconds()))
	writeJSON(w, http.StatusGatewayTimeout, timeoutBody{
		Error:   "TIMEOUT",
		Message: "Request timeout",
		Service: policy.Service,
		Timeout: policy.Timeout.PerAttempt.Milliseconds(),
	})
}

func writeUpstreamError(w http.ResponseWriter, policy domain.RoutePolicy, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	writeJSON(w, http.StatusBadGateway, upstreamBody{
		Error:   "UPSTREAM_ERROR",
		Message: "Service request failed",
		Route:   policy.Name,
		Details: details,
	})
}

// addObservabilityHeaders anexa os headers informativos (não autoritativos)
// às respostas que chegaram ao downstream.
func addObservabilityHeaders(w http.ResponseWriter, policy domain.RoutePolicy, res application.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", formatInt(policy.RateLimit.Capacity))
	if res.Rate.Remaining >= 0 {
		h.Set("X-RateLimit-Remaining", formatInt(res.Rate.Remaining))
	}
	h.Set("X-RateLimit-Reset", formatInt64(time.Now().Add(policy.RateLimit.TTL).Unix()))
	h.Set("X-Circuit-State", res.BreakerState.String())
	if res.Bulk.MaxConcurrent > 0 {
		h.Set("X-Bulkhead-Concurrent", formatInt(res.Bulk.Concurrent)+"/"+formatInt(res.Bulk.MaxConcurrent))
	}
}
