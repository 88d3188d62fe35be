package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"edge-gateway/middleware/resilience/application"
	"edge-gateway/middleware/resilience/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// KeyFunc extrai a chave de cliente de um request.
type KeyFunc func(r *http.Request) string

const (
	headerUserID         = "X-User-Id"
	headerAPIKey         = "X-API-Key"
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-Id"
)

// Options configura o middleware de resiliência de uma rota.
type Options struct {
	Limiter  domain.LimiterStore
	Bulkhead domain.SlotPool
	Breaker  domain.Breaker

	KeyFn              KeyFunc
	TrustXForwardedFor bool
	Log                logrus.FieldLogger

	// AddHeaders liga os headers informativos (X-RateLimit-*, X-Circuit-State,
	// X-Bulkhead-Concurrent) nas respostas de sucesso.
	AddHeaders bool

	// MaxReplayBody limita o buffer do corpo para replay em retry.
	// Corpo maior que isso desliga o retry do request (0 = default 1MiB).
	MaxReplayBody int64
}

// DefaultKeyFunc deriva a chave de cliente com a precedência do gateway:
// identidade autenticada → API key → IP de origem.
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if v := strings.TrimSpace(r.Header.Get(headerUserID)); v != "" {
			return "user:" + v
		}
		if v := strings.TrimSpace(r.Header.Get(headerAPIKey)); v != "" {
			return "api:" + v
		}
		return "ip:" + clientIP(r, trustXFF)
	}
}

func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				if ip := strings.TrimSpace(parts[0]); ip != "" {
					return ip
				}
			}
		}
		if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
			return v
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Handler aplica a cadeia de resiliência da rota em volta do próximo handler
// (tipicamente o reverse proxy do serviço downstream).
func Handler(policy domain.RoutePolicy, opts Options) func(next http.Handler) http.Handler {
	policy.Normalize()
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.TrustXForwardedFor)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.MaxReplayBody <= 0 {
		opts.MaxReplayBody = 1 << 20
	}

	pipeline := application.NewPipeline(opts.Limiter, opts.Bulkhead, opts.Breaker, opts.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(headerRequestID, requestID)
			}

			req := application.RequestInfo{
				Method:         r.Method,
				Path:           r.URL.Path,
				ClientKey:      opts.KeyFn(r),
				IdempotencyKey: r.Header.Get(headerIdempotencyKey),
				RequestID:      requestID,
			}

			// retry re-invoca o downstream, então o corpo precisa ser
			// rebobinável; corpo grande demais vira tentativa única
			attemptPolicy := policy
			var bodyBuf []byte
			if r.Body != nil && r.Body != http.NoBody &&
				policy.Retry.MaxAttempts > 1 &&
				domain.MethodRetryable(r.Method, req.IdempotencyKey) {
				buf, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxReplayBody+1))
				if err != nil || int64(len(buf)) > opts.MaxReplayBody {
					// corpo grande (ou leitura quebrada): sem replay, o que
					// já foi lido é recosturado na frente do resto
					attemptPolicy.Retry.MaxAttempts = 1
					r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
				} else {
					bodyBuf = buf
				}
			}

			var lastCapture *captureWriter
			invoke := func(ctx context.Context) domain.Outcome {
				capture := newCaptureWriter()
				lastCapture = capture

				attempt := r.Clone(ctx)
				if bodyBuf != nil {
					attempt.Body = io.NopCloser(bytes.NewReader(bodyBuf))
					attempt.ContentLength = int64(len(bodyBuf))
				}
				next.ServeHTTP(capture, attempt)

				// deadline/cancelamento têm precedência sobre o que o proxy
				// conseguiu escrever; a resposta parcial é descartada
				if err := ctx.Err(); err != nil {
					return domain.Outcome{Err: err}
				}
				return domain.Outcome{Status: capture.status}
			}

			res := pipeline.Do(r.Context(), req, attemptPolicy, invoke)

			if res.Reject != nil {
				writeRejection(w, policy, res)
				return
			}

			out := res.Outcome
			switch out.Classify() {
			case domain.ClassNone, domain.ClassStatus:
				// resposta final do downstream, boa ou ruim, vai como está
				// (retries esgotados devolvem a última falha sem retoque)
				if opts.AddHeaders {
					addObservabilityHeaders(w, policy, res)
				}
				if lastCapture != nil {
					lastCapture.copyTo(w)
				} else {
					w.WriteHeader(http.StatusBadGateway)
				}
			case domain.ClassTimeout:
				writeTimeout(w, policy)
			case domain.ClassCanceled:
				// cliente foi embora; não há para quem responder
			default:
				if errors.Is(out.Err, application.ErrFilterPanic) {
					opts.Log.WithField("route", policy.Name).WithError(out.Err).Error("filter failure")
				}
				writeUpstreamError(w, policy, out.Err)
			}
		})
	}
}
