package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

// Downstream de brincadeira para exercitar a cadeia de resiliência do gateway:
// rotas para sucesso, lentidão, falha intermitente e status fixo.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var hits atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// /slow?d=300ms segura a resposta; útil para ver timeout e slow-call
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		d := 500 * time.Millisecond
		if v := r.URL.Query().Get("d"); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				d = parsed
			}
		}
		select {
		case <-time.After(d):
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("slow ok\n"))
		case <-r.Context().Done():
			// gateway cancelou; nada a escrever
		}
	})

	// /flaky?every=3 falha com 503 a cada N-ésimo hit; útil para ver retry e breaker
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		every := 3
		if v := r.URL.Query().Get("every"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				every = parsed
			}
		}
		if hits.Add(1)%int64(every) == 0 {
			http.Error(w, "flaky failure", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("flaky ok\n"))
	})

	// /status?code=500 devolve o status pedido
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		if v := r.URL.Query().Get("code"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed >= 100 && parsed < 600 {
				code = parsed
			}
		}
		http.Error(w, http.StatusText(code), code)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example downstream listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
